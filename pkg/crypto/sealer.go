package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

var sealedMagic = []byte("pas1")

type PassphraseOptions struct {
	Iterations int
	SaltBytes  int
}

// PassphraseSealer derives an XChaCha20-Poly1305 key from a passphrase with
// PBKDF2-SHA256. Every Seal uses a fresh salt and nonce.
//
// Layout: magic | salt | nonce | ciphertext+tag
type PassphraseSealer struct {
	passphrase []byte
	options    PassphraseOptions
}

func DefaultPassphraseOptions() PassphraseOptions {
	return PassphraseOptions{
		Iterations: 120000,
		SaltBytes:  16,
	}
}

func NewPassphraseSealer(passphrase string, options PassphraseOptions) (*PassphraseSealer, error) {
	if passphrase == "" {
		return nil, ErrInvalidConfig
	}

	defaults := DefaultPassphraseOptions()
	if options.Iterations <= 0 {
		options.Iterations = defaults.Iterations
	}
	if options.SaltBytes <= 0 {
		options.SaltBytes = defaults.SaltBytes
	}

	return &PassphraseSealer{
		passphrase: []byte(passphrase),
		options:    options,
	}, nil
}

func (s *PassphraseSealer) Seal(plaintext []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrInvalidConfig
	}

	salt := make([]byte, s.options.SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(sealedMagic)+1+len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, byte(len(salt)))
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, sealedMagic), nil
}

func (s *PassphraseSealer) Open(ciphertext []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrInvalidConfig
	}
	if !bytes.HasPrefix(ciphertext, sealedMagic) || len(ciphertext) < len(sealedMagic)+1 {
		return nil, ErrInvalidCiphertext
	}

	rest := ciphertext[len(sealedMagic):]
	saltLen := int(rest[0])
	rest = rest[1:]
	if saltLen == 0 || len(rest) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, ErrInvalidCiphertext
	}

	salt := rest[:saltLen]
	nonce := rest[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	body := rest[saltLen+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, body, sealedMagic)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

func (s *PassphraseSealer) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(s.passphrase, salt, s.options.Iterations, chacha20poly1305.KeySize, sha256.New)
}
