// Package storetest is a conformance suite that every credstore.Backend must
// pass when wrapped by credstore.New.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/procureauth/pkg/credstore"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) credstore.Backend

func SampleRecord() credstore.Record {
	authenticatedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	expiresAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	return credstore.Record{
		Version:           credstore.RecordVersion,
		AccessCredential:  "access-token-1",
		IdentityReference: "principal-abc",
		Profile: credstore.ProfileRecord{
			Role:            "vendor",
			DisplayName:     "Asha Traders",
			Title:           "Vendor",
			AuthenticatedAt: authenticatedAt,
		},
		ExpiresAt: &expiresAt,
		Origin:    "delegated_identity",
	}
}

func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("load empty", func(t *testing.T) {
		store := newStore(t, factory)
		record, err := store.Load(context.Background())
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("save then load", func(t *testing.T) {
		store := newStore(t, factory)
		ctx := context.Background()
		want := SampleRecord()

		require.NoError(t, store.Save(ctx, want))
		got, err := store.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.AccessCredential, got.AccessCredential)
		assert.Equal(t, want.IdentityReference, got.IdentityReference)
		assert.Equal(t, want.Profile.Role, got.Profile.Role)
		assert.True(t, want.Profile.AuthenticatedAt.Equal(got.Profile.AuthenticatedAt))
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, want.ExpiresAt.Equal(*got.ExpiresAt))
		assert.Equal(t, want.Origin, got.Origin)
	})

	t.Run("save overwrites", func(t *testing.T) {
		store := newStore(t, factory)
		ctx := context.Background()
		first := SampleRecord()
		second := SampleRecord()
		second.AccessCredential = "access-token-2"
		second.ExpiresAt = nil
		second.Origin = "demo"

		require.NoError(t, store.Save(ctx, first))
		require.NoError(t, store.Save(ctx, second))
		got, err := store.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "access-token-2", got.AccessCredential)
		assert.Nil(t, got.ExpiresAt)
		assert.Equal(t, "demo", got.Origin)
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		store := newStore(t, factory)
		ctx := context.Background()

		require.NoError(t, store.Clear(ctx))
		require.NoError(t, store.Save(ctx, SampleRecord()))
		require.NoError(t, store.Clear(ctx))
		require.NoError(t, store.Clear(ctx))

		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("partial record rejected", func(t *testing.T) {
		store := newStore(t, factory)
		record := SampleRecord()
		record.AccessCredential = ""

		assert.ErrorIs(t, store.Save(context.Background(), record), credstore.ErrCorruptRecord)
	})

	t.Run("corrupt data reads as absent", func(t *testing.T) {
		backend := factory(t)
		t.Cleanup(func() { _ = backend.Close() })
		ctx := context.Background()
		require.NoError(t, backend.Put(ctx, credstore.DefaultNamespace+":session", []byte(`{"accessCredential":`), 0))

		store, err := credstore.New(backend, credstore.Options{})
		require.NoError(t, err)
		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		backend := factory(t)
		t.Cleanup(func() { _ = backend.Close() })
		ctx := context.Background()

		a, err := credstore.New(backend, credstore.Options{Namespace: "a"})
		require.NoError(t, err)
		b, err := credstore.New(backend, credstore.Options{Namespace: "b"})
		require.NoError(t, err)

		require.NoError(t, a.Save(ctx, SampleRecord()))
		got, err := b.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func newStore(t *testing.T, factory Factory) credstore.Store {
	t.Helper()
	store, err := credstore.New(factory(t), credstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
