package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-mizu/dgsync/server/pgstore"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print commits after a cursor for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		if scope == "" {
			return fmt.Errorf("--scope is required")
		}
		cursor, _ := cmd.Flags().GetUint64("cursor")
		limit, _ := cmd.Flags().GetInt("limit")

		pool, err := openPool(execCtx)
		if err != nil {
			return err
		}
		defer pool.Close()

		changes, err := pgstore.New(pool).Since(execCtx, scope, cursor, limit)
		if err != nil {
			return fmt.Errorf("tail: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, c := range changes {
			if err := enc.Encode(c); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	tailCmd.Flags().String("scope", "", "scope to tail")
	tailCmd.Flags().Uint64("cursor", 0, "resume after this cursor")
	tailCmd.Flags().Int("limit", 100, "max commits to print")
}
