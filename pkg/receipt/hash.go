// Package receipt computes the decision receipt: a SHA-256 digest over
// a sanitized canonical projection of the AP2 contract, optionally
// wrapped in an Ed25519 verifiable-credential proof.
package receipt

import (
	"crypto/subtle"
	"fmt"

	"github.com/ocn-ai/orca/pkg/canonicalize"
	"github.com/ocn-ai/orca/pkg/contracts"
)

// receiptMetadata is attached to every sanitized projection before
// hashing. Bump version only when the sanitization rules change.
var receiptMetadata = map[string]any{
	"version":        "1.0",
	"hash_algorithm": "SHA-256",
}

// Sanitize projects a contract map onto its hashable form: prices,
// instrument references, nonces, free-form meta, and the signing
// envelope are all removed so the receipt is stable across re-signing
// and carries no sensitive detail.
func Sanitize(contract map[string]any) map[string]any {
	out := deepCopy(contract)

	if cart, ok := out["cart"].(map[string]any); ok {
		if items, ok := cart["items"].([]any); ok {
			kept := make([]any, 0, len(items))
			for _, raw := range items {
				item, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				slim := map[string]any{}
				if id, ok := item["id"]; ok {
					slim["id"] = id
				}
				if q, ok := item["quantity"]; ok {
					slim["quantity"] = q
				}
				kept = append(kept, slim)
			}
			cart["items"] = kept
		}
	}

	if payment, ok := out["payment"].(map[string]any); ok {
		slim := map[string]any{}
		if m, ok := payment["modality"]; ok {
			slim["modality"] = m
		}
		if a, ok := payment["auth_requirements"]; ok {
			slim["auth_requirements"] = a
		}
		out["payment"] = slim
	}

	if intent, ok := out["intent"].(map[string]any); ok {
		delete(intent, "nonce")
	}

	if decision, ok := out["decision"].(map[string]any); ok {
		if meta, ok := decision["meta"].(map[string]any); ok {
			slim := map[string]any{}
			for _, k := range []string{"model", "version", "processing_time_ms"} {
				if v, ok := meta[k]; ok {
					slim[k] = v
				}
			}
			decision["meta"] = slim
		}
	}

	delete(out, "signing")
	delete(out, "metadata")
	out["receipt_metadata"] = deepCopy(receiptMetadata)
	return out
}

// Hash computes the receipt for a contract: lowercase hex SHA-256 over
// the canonical JSON of the sanitized projection.
func Hash(c *contracts.AP2Contract) (string, error) {
	m, err := c.ToMap()
	if err != nil {
		return "", fmt.Errorf("receipt: %w", err)
	}
	return HashMap(m)
}

// HashMap computes the receipt for an already-decoded contract map.
func HashMap(contract map[string]any) (string, error) {
	h, err := canonicalize.CanonicalHash(Sanitize(contract))
	if err != nil {
		return "", fmt.Errorf("receipt: %w", err)
	}
	return h, nil
}

// Verify recomputes the receipt and compares in constant time.
func Verify(hash string, c *contracts.AP2Contract) (bool, error) {
	computed, err := Hash(c)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1, nil
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
