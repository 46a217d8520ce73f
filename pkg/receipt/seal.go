package receipt

import (
	"fmt"

	"github.com/ocn-ai/orca/pkg/contracts"
)

// SealPolicy selects which integrity fields the signing envelope gets.
type SealPolicy struct {
	// HashOnly populates receipt_hash without a proof.
	HashOnly bool
	// Sign populates both receipt_hash and vc_proof.
	Sign bool
}

// Seal computes the receipt and fills the contract's signing envelope
// according to policy. With neither flag set both fields stay null and
// the computed hash is still returned for the response metadata.
func Seal(c *contracts.AP2Contract, signer *Signer, policy SealPolicy) (string, error) {
	hash, err := Hash(c)
	if err != nil {
		return "", err
	}

	switch {
	case policy.Sign:
		if signer == nil {
			return "", fmt.Errorf("receipt: signing requested without a signer")
		}
		proof, err := signer.Sign(hash)
		if err != nil {
			return "", err
		}
		c.Signing = contracts.SigningEnvelope{VCProof: proof, ReceiptHash: &hash}
	case policy.HashOnly:
		c.Signing = contracts.SigningEnvelope{ReceiptHash: &hash}
	default:
		c.Signing = contracts.SigningEnvelope{}
	}
	return hash, nil
}
