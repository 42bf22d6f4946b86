package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erigontech/stackdb/internal/log"
)

var compactCmd = &cobra.Command{
	Use:   "compact DIR OUT",
	Short: "Copy an environment's live data into a fresh, defragmented environment at OUT",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, out := args[0], args[1]
		db, err := openDatabase(cmd, dir)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Compact(out); err != nil {
			return err
		}
		log.Info("environment compacted", "source", dir, "dest", out)
		fmt.Printf("compacted %s -> %s\n", dir, out)
		return nil
	},
}
