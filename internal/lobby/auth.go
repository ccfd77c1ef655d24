package lobby

import (
	crand "crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

// Credentials are hashed here, at the lobby, so the registry only ever sees
// an opaque encoded hash. The encoding uses '$' separators and unpadded
// base64url, keeping the stored value free of whitespace and '=' so it
// survives key=value framing.
//
// Format: argon2id$<version>$<memory>$<time>$<threads>$<salt>$<hash>

type passwordParams struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
	saltLen uint32
}

var defaultPasswordParams = passwordParams{
	time:    3,
	memory:  16384,
	threads: 1,
	keyLen:  32,
	saltLen: 16,
}

func hashPassword(password string) (string, error) {
	p := defaultPasswordParams
	salt := make([]byte, p.saltLen)
	if _, err := io.ReadFull(crand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
	enc := base64.RawURLEncoding
	return fmt.Sprintf("argon2id$%d$%d$%d$%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		enc.EncodeToString(salt), enc.EncodeToString(hash)), nil
}

func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 7 || parts[0] != "argon2id" {
		return false
	}
	version, err1 := strconv.Atoi(parts[1])
	memory, err2 := strconv.ParseUint(parts[2], 10, 32)
	time, err3 := strconv.ParseUint(parts[3], 10, 32)
	threads, err4 := strconv.ParseUint(parts[4], 10, 8)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || version != argon2.Version {
		return false
	}
	enc := base64.RawURLEncoding
	salt, err := enc.DecodeString(parts[5])
	if err != nil {
		return false
	}
	want, err := enc.DecodeString(parts[6])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, uint32(time), uint32(memory), uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func validateUsername(username string) error {
	uLen := utf8.RuneCountInString(username)
	if uLen < 3 || uLen > 64 {
		return fmt.Errorf("username must have from 3 to 64 characters")
	}
	for _, c := range username {
		if !(('a' <= c && c <= 'z') ||
			('A' <= c && c <= 'Z') ||
			('0' <= c && c <= '9') ||
			c == '_' || c == '-') {
			return fmt.Errorf("allowed characters in username: A-Z, a-z, 0-9, -, _")
		}
	}
	return nil
}

func validatePassword(password string) error {
	pwLen := utf8.RuneCountInString(password)
	if pwLen < 8 || pwLen > 64 {
		return fmt.Errorf("password must have from 8 to 64 characters")
	}
	return nil
}
