package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/isometry/ldapfence/cmd/ldapfence/commands"
)

// Build-time variables injected via ldflags
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
		// check has already printed its verdict
		if !errors.Is(err, commands.ErrRejected) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
