package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeAlphabet is the character set of referral codes.
const CodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// String returns n characters drawn uniformly from alphabet with crypto/rand.
func String(alphabet string, n int) (string, error) {
	if alphabet == "" {
		return "", fmt.Errorf("empty alphabet")
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		j, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		out[i] = alphabet[j.Int64()]
	}
	return string(out), nil
}
