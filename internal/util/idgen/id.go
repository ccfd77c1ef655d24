package idgen

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const tokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func init() {
	if len(tokenAlphabet) != 62 {
		panic("must not happen")
	}
	for i := 1; i < len(tokenAlphabet); i++ {
		if tokenAlphabet[i-1] >= tokenAlphabet[i] {
			panic("must not happen")
		}
	}
}

// SecureToken returns a fresh match-admission token. 24 characters over a
// 62-symbol alphabet give ~142 bits of entropy, and the alphabet keeps the
// token free of whitespace and '=' so it survives key=value framing.
func SecureToken() (string, error) {
	var b strings.Builder
	var bigLen = big.NewInt(int64(len(tokenAlphabet)))
	for range 24 {
		idx, err := crand.Int(crand.Reader, bigLen)
		if err != nil {
			return "", fmt.Errorf("crypto rand: %w", err)
		}
		_ = b.WriteByte(tokenAlphabet[int(idx.Int64())])
	}
	return b.String(), nil
}

func MustSecureToken() string {
	s, err := SecureToken()
	if err != nil {
		panic(err)
	}
	return s
}
