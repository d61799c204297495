package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// defaultTokenSize is the entropy in bytes behind a session token. 32 bytes
// encodes to a 43-character bearer credential, which doubles as the session
// document id, so it must stay URL- and BSON-key-safe.
const defaultTokenSize = 32

// RandomTokenGenerator mints opaque session tokens. Tokens carry no claims;
// everything about the session lives server-side and revocation is a store
// delete.
type RandomTokenGenerator struct {
	Size int
}

func (g RandomTokenGenerator) NewToken() (string, error) {
	size := g.Size
	if size <= 0 {
		size = defaultTokenSize
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: entropy read failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
