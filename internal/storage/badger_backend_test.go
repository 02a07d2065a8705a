package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestBadgerBackend(t *testing.T) (*BadgerBackend, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "badger")
	backend := NewBadgerBackend()
	require.NoError(t, backend.Initialize(dbPath, false))
	return backend, dbPath
}

func TestBadgerBackend_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("Success", func(t *testing.T) {
		t.Parallel()
		backend, _ := setupTestBadgerBackend(t)
		defer backend.Close()

		assert.NotNil(t, backend.db)
		assert.True(t, backend.initialized)
		assert.Zero(t, backend.NodeCount())
	})

	t.Run("ReopenKeepsCounts", func(t *testing.T) {
		t.Parallel()
		backend, dbPath := setupTestBadgerBackend(t)
		_, err := backend.BulkLoad(context.Background(), testGraph(), 0)
		require.NoError(t, err)
		require.NoError(t, backend.Close())

		// Open in read-only mode
		reopened := NewBadgerBackend()
		require.NoError(t, reopened.Initialize(dbPath, true))
		defer reopened.Close()

		assert.Equal(t, 4, reopened.NodeCount())
		assert.Equal(t, 4, reopened.RelationshipCount())
	})

	t.Run("CloseTwice", func(t *testing.T) {
		t.Parallel()
		backend, _ := setupTestBadgerBackend(t)
		assert.NoError(t, backend.Close())
		assert.NoError(t, backend.Close())
	})
}

func TestBadgerBackend_Indexes(t *testing.T) {
	t.Parallel()

	backend, _ := setupTestBadgerBackend(t)
	defer backend.Close()
	_, err := backend.BulkLoad(context.Background(), testGraph(), 0)
	require.NoError(t, err)

	require.NoError(t, backend.db.View(func(txn *badger.Txn) error {
		out, err := scanValues(txn, prefixOutgoing+"playbook:PB:")
		require.NoError(t, err)
		assert.Len(t, out, 3)

		in, err := scanValues(txn, prefixIncoming+"pack-metadata:P:IN_PACK:")
		require.NoError(t, err)
		assert.Len(t, in, 2)

		byPath, err := scanValues(txn, prefixPath+"Packs/P/Playbooks/PB.yml:")
		require.NoError(t, err)
		assert.Equal(t, []string{"playbook:PB"}, byPath)
		return nil
	}))
}

func TestBadgerBackend_DeleteNode(t *testing.T) {
	t.Parallel()

	backend, _ := setupTestBadgerBackend(t)
	defer backend.Close()
	_, err := backend.BulkLoad(context.Background(), testGraph(), 0)
	require.NoError(t, err)

	require.NoError(t, backend.db.Update(func(txn *badger.Txn) error {
		ends, err := deleteNode(txn, "playbook:PB")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"script:HelperScript", "script:Ghost", "pack-metadata:P"}, ends)
		return nil
	}))
	require.NoError(t, backend.db.View(func(txn *badger.Txn) error {
		assert.Equal(t, 1, countPrefix(txn, prefixRel))
		assert.Zero(t, countPrefix(txn, prefixOutgoing+"playbook:PB:"))
		assert.Empty(t, searchTokens(txn, "PB"))
		return nil
	}))
}
