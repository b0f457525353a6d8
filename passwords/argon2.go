package passwords

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Default Argon2id parameters
const (
	DefaultArgonTime    = 3         // iterations
	DefaultArgonMemory  = 64 * 1024 // 64 MB
	DefaultArgonThreads = 4
	DefaultArgonSaltLen = 16
	DefaultArgonKeyLen  = 32

	argon2idPrefix = "$argon2id$"
)

// Params are the Argon2id cost parameters embedded in every digest
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultParams returns the recommended Argon2id cost
func DefaultParams() Params {
	return Params{
		Time:    DefaultArgonTime,
		Memory:  DefaultArgonMemory,
		Threads: DefaultArgonThreads,
		KeyLen:  DefaultArgonKeyLen,
		SaltLen: DefaultArgonSaltLen,
	}
}

// Option configures Argon2id hashing parameters
type Option func(*Params)

// WithTime sets Argon2 iterations
func WithTime(t uint32) Option {
	return func(p *Params) {
		if t > 0 {
			p.Time = t
		}
	}
}

// WithMemory sets Argon2 memory in KiB
func WithMemory(m uint32) Option {
	return func(p *Params) {
		if m > 0 {
			p.Memory = m
		}
	}
}

// WithThreads sets Argon2 parallelism
func WithThreads(t uint8) Option {
	return func(p *Params) {
		if t > 0 {
			p.Threads = t
		}
	}
}

func WithKeyLength(n uint32) Option {
	return func(p *Params) {
		if n >= 16 {
			p.KeyLen = n
		}
	}
}

func WithSaltLength(n uint32) Option {
	return func(p *Params) {
		if n >= 16 {
			p.SaltLen = n
		}
	}
}

// Hasher produces Argon2id PHC digests and verifies both Argon2id and legacy
// bcrypt digests. It is safe for concurrent use.
type Hasher struct {
	params Params
}

// NewHasher creates a hasher with the default cost adjusted by opts
func NewHasher(opts ...Option) *Hasher {
	params := DefaultParams()
	for _, opt := range opts {
		opt(&params)
	}
	return &Hasher{params: params}
}

// Params returns the cost the hasher writes new digests with
func (h *Hasher) Params() Params {
	return h.params
}

// Hash creates an Argon2id PHC-format digest of secret
func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSaltGenerationFailed, err)
	}

	key := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify checks secret against digest. Any failure, including a digest this
// hasher cannot parse, is ErrInvalidCredential.
func (h *Hasher) Verify(secret, digest string) error {
	switch {
	case strings.HasPrefix(digest, argon2idPrefix):
		return verifyArgon2id(secret, digest)
	case isBcrypt(digest):
		if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)); err != nil {
			return ErrInvalidCredential
		}
		return nil
	default:
		return ErrInvalidCredential
	}
}

// NeedsRehash reports whether digest was written with a different algorithm or
// cost than the hasher currently uses.
func (h *Hasher) NeedsRehash(digest string) bool {
	p, _, _, err := parseArgon2id(digest)
	if err != nil {
		return true
	}
	return p.Time != h.params.Time || p.Memory != h.params.Memory || p.Threads != h.params.Threads
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") || strings.HasPrefix(digest, "$2b$") || strings.HasPrefix(digest, "$2y$")
}

func verifyArgon2id(secret, digest string) error {
	p, salt, expected, err := parseArgon2id(digest)
	if err != nil {
		return ErrInvalidCredential
	}

	computed := argon2.IDKey([]byte(secret), salt, p.Time, p.Memory, p.Threads, uint32(len(expected)))
	if subtle.ConstantTimeCompare(computed, expected) != 1 {
		return ErrInvalidCredential
	}
	return nil
}

func parseArgon2id(digest string) (Params, []byte, []byte, error) {
	var p Params
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("phc: invalid format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, fmt.Errorf("phc: unsupported version")
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, fmt.Errorf("phc: invalid parameters: %w", err)
	}
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return p, nil, nil, fmt.Errorf("phc: zero parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("phc: invalid salt encoding: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("phc: invalid hash encoding")
	}
	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}
