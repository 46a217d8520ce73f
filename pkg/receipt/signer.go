package receipt

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ocn-ai/orca/pkg/canonicalize"
	"github.com/ocn-ai/orca/pkg/contracts"
)

// Proof constants per Ed25519Signature2020.
const (
	ProofType    = "Ed25519Signature2020"
	ProofPurpose = "assertionMethod"
)

// Key provenance modes.
const (
	KeyModeEnv       = "env"
	KeyModeFile      = "file"
	KeyModeEphemeral = "ephemeral"
)

// Signer signs receipt hashes into VC proofs with an Ed25519 key.
type Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
	mode  string
	now   func() time.Time
}

// SignerConfig selects the key source. KeyPEM wins over KeyPath; when
// both are empty an ephemeral test keypair is generated.
type SignerConfig struct {
	KeyPEM  string
	KeyPath string
	KeyID   string
	Clock   func() time.Time
	Logger  *slog.Logger
}

// NewSigner loads or generates the signing key.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "receipt.signer")
	}
	keyID := cfg.KeyID
	if keyID == "" {
		keyID = "orca-signing-key"
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	var (
		priv ed25519.PrivateKey
		mode string
		err  error
	)
	switch {
	case cfg.KeyPEM != "":
		priv, err = parsePEMKey([]byte(cfg.KeyPEM))
		if err != nil {
			return nil, fmt.Errorf("signer: env key: %w", err)
		}
		mode = KeyModeEnv
	case cfg.KeyPath != "":
		raw, readErr := os.ReadFile(cfg.KeyPath)
		if readErr != nil {
			return nil, fmt.Errorf("signer: read key file: %w", readErr)
		}
		priv, err = parsePEMKey(raw)
		if err != nil {
			return nil, fmt.Errorf("signer: key file %s: %w", cfg.KeyPath, err)
		}
		mode = KeyModeFile
	default:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("signer: generate ephemeral key: %w", err)
		}
		mode = KeyModeEphemeral
		logger.Warn("TEST KEY - do not use in production",
			"key_id", keyID, "mode", mode)
	}

	return &Signer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		keyID: keyID,
		mode:  mode,
		now:   clock,
	}, nil
}

// Mode reports where the key came from.
func (s *Signer) Mode() string { return s.mode }

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Fingerprint is base64 of SHA-256 over the DER-encoded public key.
func (s *Signer) Fingerprint() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(s.pub)
	if err != nil {
		return "", fmt.Errorf("signer: encode public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// VerificationMethod is "<keyID>#<fingerprint>".
func (s *Signer) VerificationMethod() (string, error) {
	fp, err := s.Fingerprint()
	if err != nil {
		return "", err
	}
	return s.keyID + "#" + fp, nil
}

// Sign wraps a receipt hash in a VC proof. The signature covers the
// canonical JSON of the proof object without proofValue.
func (s *Signer) Sign(receiptHash string) (*contracts.VCProof, error) {
	vm, err := s.VerificationMethod()
	if err != nil {
		return nil, err
	}
	proof := &contracts.VCProof{
		Type:               ProofType,
		Created:            contracts.FormatTime(s.now()),
		VerificationMethod: vm,
		ProofPurpose:       ProofPurpose,
		ReceiptHash:        receiptHash,
	}
	payload, err := signingPayload(proof)
	if err != nil {
		return nil, err
	}
	proof.ProofValue = base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, payload))
	return proof, nil
}

// VerifyProof checks the proof signature against the signer's key.
func (s *Signer) VerifyProof(proof *contracts.VCProof) (bool, error) {
	return VerifyProofWithKey(proof, s.pub)
}

// VerifyProofWithKey reconstructs the canonical proof-minus-signature
// payload and verifies proofValue against pub.
func VerifyProofWithKey(proof *contracts.VCProof, pub ed25519.PublicKey) (bool, error) {
	if proof == nil {
		return false, fmt.Errorf("signer: nil proof")
	}
	sig, err := base64.StdEncoding.DecodeString(proof.ProofValue)
	if err != nil {
		return false, fmt.Errorf("signer: decode proofValue: %w", err)
	}
	stripped := *proof
	stripped.ProofValue = ""
	payload, err := signingPayload(&stripped)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, payload, sig), nil
}

func signingPayload(proof *contracts.VCProof) ([]byte, error) {
	b, err := canonicalize.JCS(proof)
	if err != nil {
		return nil, fmt.Errorf("signer: canonicalize proof: %w", err)
	}
	return b, nil
}

// parsePEMKey accepts a PKCS#8-wrapped Ed25519 private key.
func parsePEMKey(raw []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an Ed25519 key")
	}
	return priv, nil
}

// EncodePrivatePEM serializes a private key in PKCS#8 PEM, the format
// the env and file key modes expect.
func EncodePrivatePEM(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("signer: encode private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}
