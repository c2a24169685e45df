// Command syncctl is an operator tool for a dgsync deployment: trigger
// compaction/prune manually, inspect client cursors, and tail a
// scope's commit log.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-mizu/dgsync/cmd/syncctl/internal/cli"
)

var Version = "dev"

func main() {
	cli.Version = Version

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
