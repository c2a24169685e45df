package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-mizu/dgsync/server/pgstore"
)

var cursorsCmd = &cobra.Command{
	Use:   "cursors",
	Short: "List client cursors recorded for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		if scope == "" {
			return fmt.Errorf("--scope is required")
		}

		pool, err := openPool(execCtx)
		if err != nil {
			return err
		}
		defer pool.Close()

		cursors, err := pgstore.NewCursorSource(pool).ClientCursors(execCtx, scope)
		if err != nil {
			return fmt.Errorf("cursors: %w", err)
		}
		if len(cursors) == 0 {
			fmt.Println("no client cursors recorded for this scope")
			return nil
		}
		for _, c := range cursors {
			fmt.Printf("client=%s cursor=%d updated_at=%s\n", c.ClientID, c.Cursor, c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	},
}

func init() {
	cursorsCmd.Flags().String("scope", "", "scope to inspect")
}
