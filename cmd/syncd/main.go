// Command syncd runs the sync server: commit log, push/pull/snapshot
// HTTP endpoints, and the background compaction/prune loop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-mizu/dgsync/cmd/syncd/internal/cli"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cli.Version = Version
	cli.Commit = Commit
	cli.BuildTime = BuildTime

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
