package credstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/procureauth/pkg/credstore"
	"github.com/porthorian/procureauth/pkg/credstore/memory"
	"github.com/porthorian/procureauth/pkg/credstore/storetest"
	"github.com/porthorian/procureauth/pkg/crypto"
)

func TestSealedCodecRoundTrip(t *testing.T) {
	sealer, err := crypto.NewPassphraseSealer("pass", crypto.PassphraseOptions{Iterations: 1000})
	require.NoError(t, err)

	backend := memory.NewAdapter()
	store, err := credstore.New(backend, credstore.Options{Codec: credstore.SealedCodec{Sealer: sealer}})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, storetest.SampleRecord()))

	raw, ok, err := backend.Get(ctx, credstore.DefaultNamespace+":session")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "access-token-1")

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "access-token-1", got.AccessCredential)
}

func TestSealedCodecWrongKeyReadsAsAbsent(t *testing.T) {
	backend := memory.NewAdapter()
	ctx := context.Background()

	writerSealer, err := crypto.NewPassphraseSealer("pass", crypto.PassphraseOptions{Iterations: 1000})
	require.NoError(t, err)
	writer, err := credstore.New(backend, credstore.Options{Codec: credstore.SealedCodec{Sealer: writerSealer}})
	require.NoError(t, err)
	require.NoError(t, writer.Save(ctx, storetest.SampleRecord()))

	readerSealer, err := crypto.NewPassphraseSealer("other", crypto.PassphraseOptions{Iterations: 1000})
	require.NoError(t, err)
	reader, err := credstore.New(backend, credstore.Options{Codec: credstore.SealedCodec{Sealer: readerSealer}})
	require.NoError(t, err)

	got, err := reader.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnsupportedVersionReadsAsAbsent(t *testing.T) {
	backend := memory.NewAdapter()
	backend.Set(credstore.DefaultNamespace+":session", []byte(`{"version":9,"accessCredential":"x","origin":"demo","profile":{"role":"vendor"}}`))

	store, err := credstore.New(backend, credstore.Options{})
	require.NoError(t, err)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := credstore.New(nil, credstore.Options{})
	assert.Error(t, err)
}
