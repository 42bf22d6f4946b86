package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect DIR",
	Short: "Print object store counts and environment size for an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		db, err := openDatabase(cmd, dir)
		if err != nil {
			return err
		}
		defer db.Close()

		version, err := db.Version()
		if err != nil {
			return err
		}
		size, err := db.Size()
		if err != nil {
			return err
		}
		fmt.Printf("environment: %s\n", dir)
		fmt.Printf("_dbVersion:  %d\n", version)
		fmt.Printf("map size:    %d bytes\n", size)

		names := db.StoreNames()
		if len(names) == 0 {
			fmt.Println("no object stores declared (pass --store NAME to inspect one)")
			return nil
		}
		fmt.Printf("%-30s %s\n", "STORE", "COUNT")
		for _, name := range names {
			store, ok := db.Store(name)
			if !ok {
				continue
			}
			fmt.Printf("%-30s %d\n", name, store.Count())
		}
		return nil
	},
}
