// Command dedupv1d runs the inline-deduplication block store daemon.
package main

import (
	"fmt"
	"os"

	"github.com/dedupv1/dedupv1-go/cmd/dedupv1d/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
