package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSOrdersKeys(t *testing.T) {
	out, err := JCSString(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, out)
}

func TestJCSNested(t *testing.T) {
	out, err := JCSString(map[string]any{
		"x": map[string]any{"z": 10, "y": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"x":{"y":5,"z":10}}`, out)
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := JCSString(map[string]any{"url": "https://a.example/?x=1&y=2"})
	require.NoError(t, err)
	assert.Contains(t, out, "&y=2")
	assert.NotContains(t, out, `&`)
}

func TestJCSStructTagsApply(t *testing.T) {
	type payload struct {
		TraceID string `json:"trace_id"`
		Amount  string `json:"amount"`
	}
	out, err := JCSString(payload{TraceID: "txn_1", Amount: "10.00"})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":"10.00","trace_id":"txn_1"}`, out)
}

func TestCanonicalHashStableUnderKeyOrder(t *testing.T) {
	a := map[string]any{"a": 1, "b": "two", "c": []any{1, 2, 3}}
	b := map[string]any{"c": []any{1, 2, 3}, "b": "two", "a": 1}

	ha, err := CanonicalHash(a)
	require.NoError(t, err)
	hb, err := CanonicalHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestPrefixedHash(t *testing.T) {
	got, err := PrefixedHash(map[string]any{"a": 1})
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(`{"a":1}`))
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), got)
}
