package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sievesearch/sieve/cmd"
	"github.com/sievesearch/sieve/cmd/index"
	"github.com/sievesearch/sieve/cmd/migrate"
	"github.com/sievesearch/sieve/cmd/search"
	"github.com/sievesearch/sieve/cmd/serve"
)

func newSieveCommand() *cobra.Command {
	rootCmd := cmd.NewRootCommand()

	rootCmd.AddCommand(serve.NewServeCommand())
	rootCmd.AddCommand(search.NewSearchCommand())
	rootCmd.AddCommand(index.NewIndexCommand())
	rootCmd.AddCommand(migrate.NewMigrateCommand())
	rootCmd.AddCommand(cmd.NewVersionCommand())

	return rootCmd
}

func main() {
	if err := newSieveCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
