package passwords

import "errors"

var (
	// ErrInvalidCredential is returned for every verification failure, whether the
	// digest is malformed or the secret is wrong.
	ErrInvalidCredential = errors.New("invalid credential")

	ErrEmptySecret          = errors.New("passwords: empty secret")
	ErrSaltGenerationFailed = errors.New("passwords: failed to generate salt")
)
