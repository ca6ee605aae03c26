// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags, environment variables prefixed with SIEVE, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("SIEVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/sieve", "$HOME/.sieve", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	return &cobra.Command{
		Use:   "sieve",
		Short: "A full-text search engine relaxing queries term by term",
		Long: `A full-text search engine relaxing queries term by term.

Sieve returns the documents matching every word of a query first, then, when
allowed to, drops the last words of the query one at a time and returns the
documents matching what is left.`,
		SilenceUsage: true,
	}
}
