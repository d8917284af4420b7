package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// accessTokenPrefix is the prefix used for generated access tokens.
const accessTokenPrefix = "ppk_"

// GenerateAccessToken creates a new random access token string.
func GenerateAccessToken() (token string, err error) {
	secret := make([]byte, 32)
	if _, err = io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	token = accessTokenPrefix + hex.EncodeToString(secret)
	return token, nil
}
