package alert

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SignatureHeader carries the webhook body HMAC.
const SignatureHeader = "X-AuthGuard-Signature"

// Signer computes webhook signatures. The signing key is derived from the
// configured secret with HKDF-SHA256; the raw secret never keys the MAC
// directly.
type Signer struct {
	key []byte
}

// NewSigner derives the signing key from secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is empty")
	}
	r := hkdf.New(sha256.New, []byte(secret), []byte("authguard-webhook-kdf"), []byte("alert-signing-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return &Signer{key: key}, nil
}

// Signature returns the header value for body: "sha256=<hex hmac>".
func (s *Signer) Signature(body []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received header value against body.
func (s *Signer) Verify(body []byte, header string) bool {
	return hmac.Equal([]byte(s.Signature(body)), []byte(header))
}
