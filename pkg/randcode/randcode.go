// Package randcode generates short alphanumeric codes for certificate numbers
// and artifact file suffixes.
package randcode

import (
	"crypto/rand"
	"math/big"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// New returns a random alphanumeric code of the given length.
func New(length int) string {
	code := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken;
			// fall back to a fixed character rather than panic mid-batch.
			code[i] = alphabet[0]
			continue
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code)
}
