// Package signature authenticates intents with an HMAC-SHA256 over an RFC
// 8785 canonical JSON serialization of the signed fields. Canonicalization
// sorts object keys, so two callers building params in different insertion
// orders still produce the same digest.
//
// Verification fails closed: any serialization or decoding error is treated
// as an invalid signature, never as a pass.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/quantfabric/opscore/internal/intent"
)

// canonicalTuple is the exact field subset covered by the signature.
// Key order here is irrelevant; JCS sorts keys before hashing.
type canonicalTuple struct {
	ID         string         `json:"id"`
	Type       intent.Type    `json:"type"`
	Params     map[string]any `json:"params"`
	OperatorID string         `json:"operator_id"`
}

// Verifier checks intent signatures against a shared secret. It is stateless
// and safe for concurrent use.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier. An empty secret is permitted at
// construction so tests can run without credentials, but every verification
// against an empty secret fails.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign computes the hex HMAC for the canonical tuple. Used by the operator
// CLI and by tests; the service itself only verifies.
func (v *Verifier) Sign(id string, typ intent.Type, params map[string]any, operatorID string) (string, error) {
	canonical, err := canonicalize(id, typ, params, operatorID)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether sig is the correct HMAC for the canonical tuple.
// Returns false on any error: an unverifiable intent is an invalid intent.
func (v *Verifier) Verify(id string, typ intent.Type, params map[string]any, operatorID, sig string) bool {
	if len(v.secret) == 0 || sig == "" {
		return false
	}
	canonical, err := canonicalize(id, typ, params, operatorID)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(canonical)
	return hmac.Equal(got, mac.Sum(nil))
}

func canonicalize(id string, typ intent.Type, params map[string]any, operatorID string) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(canonicalTuple{
		ID:         id,
		Type:       typ,
		Params:     params,
		OperatorID: operatorID,
	})
	if err != nil {
		return nil, fmt.Errorf("signature: marshal tuple: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("signature: canonicalize: %w", err)
	}
	return canonical, nil
}
