// Indexd builds and queries a semantic index over automation bundles,
// library documentation, and crawled documentation pages.
//
// Usage:
//
//	# Full indexing run over configured sources
//	indexd index --config config.yaml
//
//	# Rebuild from snapshots without re-crawling
//	indexd index --restore
//
//	# Query the index
//	indexd search "rolling deploys" --filter platform=linux
//
//	# Row counts per category
//	indexd stats
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/indexd/cmd/indexd/commands"
)

func main() {
	root := &cobra.Command{
		Use:           "indexd",
		Short:         "Semantic indexing and retrieval for automation content",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to config file (YAML)")

	root.AddCommand(
		commands.NewIndexCommand(),
		commands.NewSearchCommand(),
		commands.NewStatsCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
