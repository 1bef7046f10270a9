package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/staarb/staarb/internal/config"
	"github.com/staarb/staarb/internal/storage"
	"github.com/staarb/staarb/pkg/formatters"
)

func init() {
	resultsCmd.Flags().String("db", "", "database path (default from config)")

	rootCmd.AddCommand(resultsCmd)
}

var resultsCmd = &cobra.Command{
	Use:   "results [session-id]",
	Short: "Show persisted sessions and their positions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResults,
}

func runResults(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		path = config.DefaultDatabasePath()
	}

	store, err := storage.Open(path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		sessions, err := store.Sessions(ctx)
		if err != nil {
			return err
		}
		fmt.Println(formatters.FormatSessionsTable(sessions))
		return nil
	}

	positions, err := store.Positions(ctx, args[0])
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return fmt.Errorf("no positions recorded for session %s", args[0])
	}
	fmt.Println(formatters.FormatSessionPositionsTable(positions))
	return nil
}
