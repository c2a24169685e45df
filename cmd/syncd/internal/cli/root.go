// Package cli implements the syncd command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

// Version, Commit and BuildTime are set from main before Execute runs,
// normally via -ldflags "-X ...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	logLevel string
	execCtx  context.Context
)

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Offline-capable bidirectional sync server",
	Long: `syncd serves the dgsync wire protocol: push, pull and snapshot
bootstrap endpoints backed by an append-only commit log, with a
background compaction and prune loop.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLevel(logLevel),
		})))
		return nil
	},
	SilenceUsage: true,
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.AddCommand(serveCmd)
	rootCmd.SilenceErrors = true
}

func effectiveVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return Version
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// Execute runs the root command until ctx is canceled or the command
// returns. ctx is threaded into subcommands that need to honor
// shutdown signals (serve).
func Execute(ctx context.Context) error {
	execCtx = ctx
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", effectiveVersion(), Commit, BuildTime)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
