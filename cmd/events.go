package cmd

import (
	"context"
	"fmt"

	"github.com/panopticon-door/panopticon/internal/config"
	"github.com/panopticon-door/panopticon/internal/database"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the audit trail, newest first",
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().IntP("limit", "n", 0, "Show only the newest N events (0 = all)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	eng, pool, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := context.Background()
	limit := mustGetInt(cmd, "limit")

	var events []database.StoredEvent
	if limit > 0 {
		events, err = eng.RecentEvents(ctx, limit)
	} else {
		events, err = eng.EventHistory(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch events: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}

	for _, event := range events {
		identityID := event.IdentityID
		if identityID == "" {
			identityID = "-"
		}
		fmt.Printf("%s  %-14s %-10s %s\n",
			event.CreatedAt.Format("2006-01-02 15:04:05"),
			event.Kind, identityID, event.Detail)
	}
	return nil
}
