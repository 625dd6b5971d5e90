package crypto

import "errors"

var (
	ErrInvalidCiphertext = errors.New("sealer: invalid ciphertext")
	ErrInvalidConfig     = errors.New("sealer: invalid config")
)

// Sealer protects persisted session records at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}
