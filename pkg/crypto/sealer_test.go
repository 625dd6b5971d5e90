package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSealer(t *testing.T, passphrase string) *PassphraseSealer {
	t.Helper()
	sealer, err := NewPassphraseSealer(passphrase, PassphraseOptions{Iterations: 1000})
	require.NoError(t, err)
	return sealer
}

func TestPassphraseSealRoundTrip(t *testing.T) {
	sealer := newTestSealer(t, "secret-pass")

	sealed, err := sealer.Seal([]byte(`{"accessCredential":"tok"}`))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "tok")

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"accessCredential":"tok"}`, string(opened))

	again, err := sealer.Seal([]byte(`{"accessCredential":"tok"}`))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)
}

func TestPassphraseOpenWrongPassphrase(t *testing.T) {
	sealed, err := newTestSealer(t, "secret-pass").Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = newTestSealer(t, "wrong-pass").Open(sealed)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestPassphraseOpenInvalid(t *testing.T) {
	sealer := newTestSealer(t, "secret-pass")

	for _, input := range [][]byte{nil, []byte("invalid"), []byte("pas1"), append([]byte("pas1"), 16, 1, 2)} {
		_, err := sealer.Open(input)
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	}
}

func TestNewPassphraseSealerRequiresPassphrase(t *testing.T) {
	_, err := NewPassphraseSealer("", PassphraseOptions{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
