package domain

import (
	"crypto/rand"
	"encoding/base64"
)

// NewRedemptionToken mints the opaque single-use entry credential for a paid
// booking. 32 random bytes keep it unguessable from the booking id.
func NewRedemptionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
