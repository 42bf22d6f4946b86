// Command stackdb is an operator CLI for a stackdb environment: inspecting
// the object stores and index tables it holds, running its version-upgrade
// protocol out of band, and compacting a fragmented environment down to its
// live data.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erigontech/stackdb/internal/log"
)

var banner = `
   _       _    _____ ____
  | |_ ___| |_ | ____|  _ \  _ __    MAIN CORE
  | __/ _ \ __||  _| | | | || '_ \    stacked transactions
  | ||  __/ |_ | |___| |_| || |_) |   B+-tree indices
   \__\___|\__||_____|____/ | .__/    over a persistent backend
                             |_|
`

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stackdb",
	Short: "Operator CLI for a stackdb environment",
	Long:  banner + "\nstackdb is an embedded transactional key-value store with secondary indices.",
}

func init() {
	rootCmd.PersistentFlags().StringSlice("store", nil, "object store name known to this schema (repeatable)")
	rootCmd.PersistentFlags().Int("version", 0, "schema version to open the environment at")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug-level logging")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(upgradeCmd)
}

func initLogging() {
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return
	}
	log.SetLogger(l.Sugar())
}
