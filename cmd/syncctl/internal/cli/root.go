// Package cli implements the syncctl command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var Version = "dev"

var execCtx context.Context

var postgresDSN string

var rootCmd = &cobra.Command{
	Use:          "syncctl",
	Short:        "Operate a dgsync deployment",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&postgresDSN, "postgres-dsn", os.Getenv("DGSYNC_POSTGRES_DSN"), "Postgres connection string")
	rootCmd.AddCommand(compactCmd, cursorsCmd, tailCmd)
	rootCmd.SilenceErrors = true
}

func Execute(ctx context.Context) error {
	execCtx = ctx
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if postgresDSN == "" {
		return nil, fmt.Errorf("--postgres-dsn (or DGSYNC_POSTGRES_DSN) is required")
	}
	return pgxpool.New(ctx, postgresDSN)
}
