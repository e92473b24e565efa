// Command constructops runs the ConstructOps API and its operational tooling.
package main

import (
	"context"
	"os"

	"github.com/turtacn/ConstructOps/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
