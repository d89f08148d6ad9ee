package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// PhonePe authenticates requests and callbacks with an X-VERIFY header of
// the form sha256(payload + salt_key) + "###" + salt_index.
type PhonePe struct {
	saltKey   string
	saltIndex int
}

func NewPhonePe(saltKey string, saltIndex int) *PhonePe {
	return &PhonePe{saltKey: saltKey, saltIndex: saltIndex}
}

// Sign returns the X-VERIFY value for payload.
func (p *PhonePe) Sign(payload string) string {
	sum := sha256.Sum256([]byte(payload + p.saltKey))
	return hex.EncodeToString(sum[:]) + "###" + strconv.Itoa(p.saltIndex)
}

// PayChecksum signs a pay request: the base64 body followed by the API path.
func (p *PhonePe) PayChecksum(b64Body, apiPath string) string {
	return p.Sign(b64Body + apiPath)
}

// StatusChecksum signs a status request, whose payload is just its path.
func (p *PhonePe) StatusChecksum(path string) string {
	return p.Sign(path)
}

// VerifyCallback checks the X-VERIFY header delivered with a server-to-server
// callback against its base64 "response" field. It returns ErrMalformed when
// the header does not have the digest###index shape.
func (p *PhonePe) VerifyCallback(b64Response, xVerify string) (bool, error) {
	digest, idx, ok := strings.Cut(xVerify, "###")
	if !ok || digest == "" || idx == "" {
		return false, ErrMalformed
	}
	n, err := strconv.Atoi(idx)
	if err != nil {
		return false, fmt.Errorf("%w: salt index %q", ErrMalformed, idx)
	}
	if n != p.saltIndex {
		return false, nil
	}
	return equalHex(p.Sign(b64Response), xVerify), nil
}
