package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sievesearch/sieve/internal/build"
)

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand()
	root.AddCommand(NewVersionCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())

	require.Equal(t, "sieve version "+build.Version+" date "+build.Date+" commit "+build.Commit+"\n", out.String())
}

func TestVersionCommandRejectsArguments(t *testing.T) {
	root := NewRootCommand()
	root.AddCommand(NewVersionCommand())
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"version", "extra"})
	require.Error(t, root.Execute())
}
