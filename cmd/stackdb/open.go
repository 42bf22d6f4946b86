package main

import (
	"github.com/spf13/cobra"

	"github.com/erigontech/stackdb/database"
)

// openDatabase opens and connects a Database Handle rooted at dir, declaring
// one persistent object store (with no secondary indices) per --store flag.
// The CLI only ever needs a store's name and key count, so it never needs
// to know the application's own index layout to inspect, compact, or
// upgrade an environment.
func openDatabase(cmd *cobra.Command, dir string) (*database.Database, error) {
	version, _ := cmd.Flags().GetInt("version")
	stores, _ := cmd.Flags().GetStringSlice("store")

	db, err := database.Open(dir, version, database.Options{})
	if err != nil {
		return nil, err
	}
	for _, name := range stores {
		if err := db.CreateObjectStore(name, database.ObjectStoreSpec{Persistent: true}); err != nil {
			return nil, err
		}
	}
	if err := db.Connect(); err != nil {
		return nil, err
	}
	return db, nil
}
