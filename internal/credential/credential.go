// Package credential mints check-in credentials and renders them for scanning.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// TokenBytes is the credential entropy: 128 bits
const TokenBytes = 16

// Mint returns a new random credential, hex encoded
func Mint() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// RenderQR encodes a credential as a PNG QR code of size x size pixels
func RenderQR(token string, size int) ([]byte, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}
