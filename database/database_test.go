package database_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/stackdb/database"
)

func TestOpenConnectCreatesStoreAndRoundTripsValue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.CreateObjectStore("widgets", database.ObjectStoreSpec{Persistent: true}))
	require.NoError(t, db.Connect())
	t.Cleanup(func() { _ = db.Close() })

	widgets, ok := db.Store("widgets")
	require.True(t, ok)

	require.NoError(t, widgets.Put([]byte("w1"), database.Value{"name": "sprocket"}))
	v, ok, err := widgets.Get([]byte("w1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sprocket", v["name"])
}

func TestUnconnectedStoreLookupFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.CreateObjectStore("widgets", database.ObjectStoreSpec{Persistent: true}))

	_, ok := db.Store("widgets")
	require.False(t, ok, "a pending store has no live handle until Connect runs the upgrade protocol")
}

func TestVersionUpgradeInvokesOnUpgradeOnceOnVersionIncrease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	calls := 0
	var seenOld, seenNew int
	db, err := database.Open(dir, 3, database.Options{
		OnUpgrade: func(oldVersion, newVersion int, d *database.Database) error {
			calls++
			seenOld, seenNew = oldVersion, newVersion
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, db.Connect())
	require.NoError(t, db.Close())

	require.Equal(t, 1, calls)
	require.Equal(t, 0, seenOld)
	require.Equal(t, 3, seenNew)

	// Reopening at the same version must not invoke onUpgrade again.
	calls = 0
	db2, err := database.Open(dir, 3, database.Options{
		OnUpgrade: func(oldVersion, newVersion int, d *database.Database) error {
			calls++
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, db2.Connect())
	t.Cleanup(func() { _ = db2.Close() })
	require.Equal(t, 0, calls)
}

func TestDeleteObjectStoreDropsNativeTable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.CreateObjectStore("widgets", database.ObjectStoreSpec{Persistent: true}))
	require.NoError(t, db.Connect())

	widgets, ok := db.Store("widgets")
	require.True(t, ok)
	require.NoError(t, widgets.Put([]byte("w1"), database.Value{"name": "sprocket"}))

	require.NoError(t, db.DeleteObjectStore("widgets", database.DeleteObjectStoreOptions{}))
	_, ok = db.Store("widgets")
	require.False(t, ok)
	require.NoError(t, db.Close())
}

func TestDestroyRemovesDatabaseDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Connect())

	require.NoError(t, db.Destroy())
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func TestSizeReportsMapUsage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Connect())
	t.Cleanup(func() { _ = db.Close() })

	size, err := db.Size()
	require.NoError(t, err)
	require.Greater(t, size, uint64(0))
}

func TestSizeBeforeConnectIsNotConnected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)

	_, err = db.Size()
	require.Error(t, err)
}

func TestVersionReportsPersistedSchemaVersion(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 3, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Connect())
	t.Cleanup(func() { _ = db.Close() })

	v, err := db.Version()
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestCompactCopiesLiveDataToFreshEnvironment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.CreateObjectStore("widgets", database.ObjectStoreSpec{Persistent: true}))
	require.NoError(t, db.Connect())
	t.Cleanup(func() { _ = db.Close() })

	widgets, ok := db.Store("widgets")
	require.True(t, ok)
	require.NoError(t, widgets.Put([]byte("w1"), database.Value{"name": "sprocket"}))

	out := filepath.Join(t.TempDir(), "compacted")
	require.NoError(t, db.Compact(out))

	db2, err := database.Open(out, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db2.CreateObjectStore("widgets", database.ObjectStoreSpec{Persistent: true}))
	require.NoError(t, db2.Connect())
	t.Cleanup(func() { _ = db2.Close() })

	w2, ok := db2.Store("widgets")
	require.True(t, ok)
	v, ok, err := w2.Get([]byte("w1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sprocket", v["name"])
}

func TestCommitCombinedAcrossTwoStores(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.CreateObjectStore("accounts", database.ObjectStoreSpec{Persistent: true}))
	require.NoError(t, db.CreateObjectStore("ledger", database.ObjectStoreSpec{Persistent: true}))
	require.NoError(t, db.Connect())
	t.Cleanup(func() { _ = db.Close() })

	accounts, _ := db.Store("accounts")
	ledger, _ := db.Store("ledger")

	accTx := accounts.Transaction()
	require.NoError(t, accTx.Put([]byte("acc1"), database.Value{"balance": 100.0}))
	ledgerTx := ledger.Transaction()
	require.NoError(t, ledgerTx.Put([]byte("entry1"), database.Value{"amount": 100.0}))

	ok, err := db.CommitCombined(accTx, ledgerTx)
	require.NoError(t, err)
	require.True(t, ok)

	v, found, err := accounts.Get([]byte("acc1"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 100.0, v["balance"])

	v, found, err = ledger.Get([]byte("entry1"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 100.0, v["amount"])
}
