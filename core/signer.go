package core

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	SignatureHeader = "X-Mantis-Signature"
	SignaturePrefix = "sha256="
)

// HMACSigner signs payloads with HMAC-SHA256 and renders the lowercase hex digest.
type HMACSigner struct{}

func (HMACSigner) Sign(secret string, payload []byte) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("core: webhook secret is required for signing")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignatureHeaderValue renders the header value sent alongside a signed body.
func SignatureHeaderValue(signature string) string {
	return SignaturePrefix + strings.TrimSpace(signature)
}

// CanonicalJSON re-encodes payload with sorted object keys and no insignificant
// whitespace. Numbers keep their original literal form.
func CanonicalJSON(payload []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return []byte("null"), nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("core: webhook payload is not valid json: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("core: webhook payload has trailing data")
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, fmt.Errorf("core: encode canonical payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// VerifySignature checks a header value produced by SignatureHeaderValue.
func VerifySignature(signer PayloadSigner, secret string, payload []byte, headerValue string) bool {
	if signer == nil {
		signer = HMACSigner{}
	}
	expected, err := signer.Sign(secret, payload)
	if err != nil {
		return false
	}
	provided := strings.TrimPrefix(strings.TrimSpace(headerValue), SignaturePrefix)
	return hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected))
}
