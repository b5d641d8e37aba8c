// Command treemirror serves an in-memory tree over websocket and mirrors
// paths from such a server into a local store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &configFlags{}
	root := &cobra.Command{
		Use:   "treemirror",
		Short: "Mirror a remote hierarchical key-value tree",
		Long: `treemirror keeps a local, reference-counted mirror of paths and queries
from a remote tree. "serve" exposes a tree over websocket, "watch" mirrors
paths from it and prints every change.`,
		SilenceUsage: true,
	}
	flags.AddFlags(root.PersistentFlags())

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newWatchCommand(flags))
	root.AddCommand(newConfigCommand(flags))
	return root
}
