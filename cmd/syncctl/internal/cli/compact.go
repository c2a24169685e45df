package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-mizu/dgsync/server/maintenance"
	"github.com/go-mizu/dgsync/server/pgstore"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run compaction/prune for a scope now",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		if scope == "" {
			return fmt.Errorf("--scope is required")
		}
		fullHistoryWindow, _ := cmd.Flags().GetDuration("full-history-window")
		activeWindow, _ := cmd.Flags().GetDuration("active-window")
		fallbackMaxAge, _ := cmd.Flags().GetDuration("fallback-max-age")
		keepNewest, _ := cmd.Flags().GetUint64("keep-newest")

		pool, err := openPool(execCtx)
		if err != nil {
			return err
		}
		defer pool.Close()

		log := pgstore.New(pool)
		cursors := pgstore.NewCursorSource(pool)

		coordinator := maintenance.New(maintenance.Options{
			Log:            log,
			Cursors:        cursors,
			ActiveWindow:   activeWindow,
			FallbackMaxAge: fallbackMaxAge,
			KeepNewest:     keepNewest,
			MinInterval:    0,
		})

		result, err := coordinator.Run(execCtx, scope, fullHistoryWindow)
		if err != nil {
			return fmt.Errorf("compact: %w", err)
		}
		fmt.Printf("scope=%s watermark=%d pruned=%v collapsed=%d skipped=%v\n",
			scope, result.Watermark, result.Pruned, result.Collapsed, result.Skipped)
		return nil
	},
}

func init() {
	compactCmd.Flags().String("scope", "", "scope to compact/prune")
	compactCmd.Flags().Duration("full-history-window", 7*24*time.Hour, "age past which per-row change history may be collapsed")
	compactCmd.Flags().Duration("active-window", 14*24*time.Hour, "how recently a client must have pulled to hold back the prune watermark")
	compactCmd.Flags().Duration("fallback-max-age", 30*24*time.Hour, "prune watermark fallback when no client cursor is active")
	compactCmd.Flags().Uint64("keep-newest", 1000, "never prune the newest N commits")
}
