package database_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/stackdb/database"
	"github.com/erigontech/stackdb/kv/keyrange"
)

func openConnectedDB(t *testing.T) *database.Database {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.CreateObjectStore("widgets", database.ObjectStoreSpec{Persistent: true}))
	require.NoError(t, db.Connect())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateIndexBackfillsExistingEntries(t *testing.T) {
	db := openConnectedDB(t)
	widgets, ok := db.Store("widgets")
	require.True(t, ok)

	require.NoError(t, widgets.Put([]byte("w1"), database.Value{"color": "red"}))
	require.NoError(t, widgets.Put([]byte("w2"), database.Value{"color": "blue"}))
	require.NoError(t, widgets.Put([]byte("w3"), database.Value{"color": "red"}))

	require.NoError(t, widgets.CreateIndex(database.IndexSpec{Name: "byColor", KeyPath: "color."}))

	keys, err := widgets.Keys(keyrange.EQ("byColor", []byte("red")), -1)
	require.NoError(t, err)
	require.ElementsMatch(t, [][]byte{[]byte("w1"), []byte("w3")}, keys)
}

func TestValuesAndStreamsObserveConsistentSnapshot(t *testing.T) {
	db := openConnectedDB(t)
	widgets, ok := db.Store("widgets")
	require.True(t, ok)
	require.NoError(t, widgets.CreateIndex(database.IndexSpec{Name: "byColor", KeyPath: "color."}))

	require.NoError(t, widgets.Put([]byte("w1"), database.Value{"color": "red"}))
	require.NoError(t, widgets.Put([]byte("w2"), database.Value{"color": "red"}))

	values, err := widgets.Values(keyrange.EQ("byColor", []byte("red")), -1)
	require.NoError(t, err)
	require.Len(t, values, 2)

	stream, err := widgets.ValueStream(keyrange.EQ("byColor", []byte("red")), -1)
	require.NoError(t, err)
	defer stream.Close()

	var seen int
	for stream.HasNext() {
		k, v, err := stream.Next()
		require.NoError(t, err)
		require.NotEmpty(t, k)
		require.Equal(t, "red", v["color"])
		seen++
	}
	require.Equal(t, 2, seen)
}

func TestKeyStreamOnMissingIndexFails(t *testing.T) {
	db := openConnectedDB(t)
	widgets, ok := db.Store("widgets")
	require.True(t, ok)

	require.NoError(t, widgets.Put([]byte("a"), database.Value{"n": 1.0}))
	require.NoError(t, widgets.Put([]byte("b"), database.Value{"n": 2.0}))

	ks, err := widgets.KeyStream(keyrange.EQ("missing", nil), -1)
	require.Error(t, err, "querying an index that was never created should surface an error")
	require.Nil(t, ks)
}

func TestMinMaxKeyAndCount(t *testing.T) {
	db := openConnectedDB(t)
	widgets, ok := db.Store("widgets")
	require.True(t, ok)

	require.NoError(t, widgets.Put([]byte("b"), database.Value{"n": 2.0}))
	require.NoError(t, widgets.Put([]byte("a"), database.Value{"n": 1.0}))
	require.NoError(t, widgets.Put([]byte("c"), database.Value{"n": 3.0}))

	minK, minV, ok, err := widgets.MinKey()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a"), minK)
	require.Equal(t, 1.0, minV["n"])

	maxK, _, ok, err := widgets.MaxKey()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("c"), maxK)

	require.Equal(t, 3, widgets.Count())

	require.NoError(t, widgets.Truncate())
	require.Equal(t, 0, widgets.Count())
}
