package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/stackdb/database"
)

func TestInspectReportsStoreCount(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.CreateObjectStore("widgets", database.ObjectStoreSpec{Persistent: true}))
	require.NoError(t, db.Connect())
	widgets, ok := db.Store("widgets")
	require.True(t, ok)
	require.NoError(t, widgets.Put([]byte("w1"), database.Value{"name": "sprocket"}))
	require.NoError(t, db.Close())

	rootCmd.SetArgs([]string{"inspect", dir, "--store", "widgets"})
	require.NoError(t, rootCmd.Execute())
}

func TestCompactSubcommandCopiesEnvironment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(dir, 1, database.Options{})
	require.NoError(t, err)
	require.NoError(t, db.CreateObjectStore("widgets", database.ObjectStoreSpec{Persistent: true}))
	require.NoError(t, db.Connect())
	widgets, ok := db.Store("widgets")
	require.True(t, ok)
	require.NoError(t, widgets.Put([]byte("w1"), database.Value{"name": "sprocket"}))
	require.NoError(t, db.Close())

	out := filepath.Join(t.TempDir(), "compacted")
	rootCmd.SetArgs([]string{"compact", dir, out, "--store", "widgets"})
	require.NoError(t, rootCmd.Execute())
}

func TestUpgradeSubcommandPersistsNewVersion(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	rootCmd.SetArgs([]string{"upgrade", dir, "--version", "2", "--store", "widgets"})
	require.NoError(t, rootCmd.Execute())

	db, err := database.Open(dir, 2, database.Options{
		OnUpgrade: func(oldVersion, newVersion int, d *database.Database) error {
			t.Fatalf("onUpgrade should not fire again at the same version")
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, db.Connect())
	require.NoError(t, db.Close())
}
