package referral

import (
	"crypto/rand"
	"fmt"
)

// CodeAlphabet is the character set of referral and voucher codes
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode returns a random code of the given length drawn from CodeAlphabet.
// Bytes that would bias the distribution are discarded.
func GenerateCode(length int) (string, error) {
	const limit = 256 - 256%len(CodeAlphabet)

	code := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			code = append(code, CodeAlphabet[int(b)%len(CodeAlphabet)])
			if len(code) == length {
				break
			}
		}
	}
	return string(code), nil
}
