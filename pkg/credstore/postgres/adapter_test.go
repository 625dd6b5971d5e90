package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAdapterRequiresDB(t *testing.T) {
	adapter, err := NewAdapter(nil)
	assert.ErrorIs(t, err, ErrNilDB)
	assert.Nil(t, adapter)
}

func TestUninitializedAdapter(t *testing.T) {
	adapter := &Adapter{}
	ctx := context.Background()

	assert.ErrorIs(t, adapter.Put(ctx, "k", []byte("v"), 0), ErrNilDB)
	_, _, err := adapter.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNilDB)
	assert.ErrorIs(t, adapter.Delete(ctx, "k"), ErrNilDB)
	assert.NoError(t, adapter.Close())
}
