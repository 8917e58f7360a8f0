package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash signals a malformed argon2id hash string.
var ErrInvalidHash = errors.New("invalid argon2id hash")

// PasswordParams are the argon2id parameters embedded into each hash.
type PasswordParams struct {
	Memory      uint32 `json:"memory_kb" yaml:"memory_kb"`
	Time        uint32 `json:"time" yaml:"time"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
	SaltLen     uint32 `json:"salt_len" yaml:"salt_len"`
	KeyLen      uint32 `json:"key_len" yaml:"key_len"`
}

// DefaultPasswordParams follows the argon2id recommendation for interactive logins.
func DefaultPasswordParams() PasswordParams {
	return PasswordParams{
		Memory:      64 * 1024,
		Time:        1,
		Parallelism: 2,
		SaltLen:     16,
		KeyLen:      32,
	}
}

// HashPassword returns an encoded argon2id hash for password.
func HashPassword(password string, p PasswordParams) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}

	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}

	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword reports whether password matches the encoded hash.
func VerifyPassword(password, encoded string) (bool, error) {
	p, salt, hash, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

func decodeHash(encoded string) (PasswordParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return PasswordParams{}, nil, nil, ErrInvalidHash
	}

	var p PasswordParams
	for _, token := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			return PasswordParams{}, nil, nil, ErrInvalidHash
		}
		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return PasswordParams{}, nil, nil, ErrInvalidHash
			}
			p.Memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return PasswordParams{}, nil, nil, ErrInvalidHash
			}
			p.Time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return PasswordParams{}, nil, nil, ErrInvalidHash
			}
			p.Parallelism = uint8(v)
		}
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return PasswordParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return PasswordParams{}, nil, nil, ErrInvalidHash
	}
	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(hash))

	return p, salt, hash, nil
}
