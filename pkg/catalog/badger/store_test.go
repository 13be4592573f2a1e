package badger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/catalog"
	"github.com/clipvault/clipvault/pkg/catalog/catalogtest"
)

func newTestStore(t *testing.T) catalog.Catalog {
	store, err := NewStore(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestConformance(t *testing.T) {
	catalogtest.Run(t, newTestStore)
}
