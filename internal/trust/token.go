// Package trust implements the agent trust-establishment protocol.
// Agents register and wait as pending until an administrator approves
// or rejects them; approved agents poll for configuration and report
// their run outcomes.
package trust

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix marks all agent tokens.
	TokenPrefix = "atk_"
	// tokenBytes gives 256 bits of entropy; the token is the only
	// credential an agent ever holds, so it must be unguessable.
	tokenBytes = 32
)

// GenerateToken mints a new random agent token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(buf), nil
}

// IsValidTokenFormat checks the shape of a presented token before any
// store lookup.
func IsValidTokenFormat(token string) bool {
	if !strings.HasPrefix(token, TokenPrefix) {
		return false
	}
	hexPart := strings.TrimPrefix(token, TokenPrefix)
	if len(hexPart) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
