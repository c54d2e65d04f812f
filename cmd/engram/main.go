// Command engram maintains a project's living knowledge docs: it folds
// issues, documents, and session history into living docs one chunk at a
// time, detecting drift and triaging it ahead of chronological fold.
package main

import (
	"fmt"
	"os"

	"github.com/rajeshgoli/engram/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "engram: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
