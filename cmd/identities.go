package cmd

import (
	"context"
	"fmt"

	"github.com/panopticon-door/panopticon/internal/config"
	"github.com/spf13/cobra"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "List the registered identities",
	RunE:  runIdentities,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)

	identitiesCmd.Flags().Bool("count", false, "Print only the number of identities")
}

func runIdentities(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	eng, pool, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := context.Background()

	if mustGetBool(cmd, "count") {
		count, err := eng.IdentityCount(ctx)
		if err != nil {
			return fmt.Errorf("failed to count identities: %w", err)
		}
		fmt.Printf("%d\n", count)
		return nil
	}

	idents, err := eng.Identities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}

	if len(idents) == 0 {
		fmt.Println("No identities registered")
		return nil
	}

	for _, ident := range idents {
		fmt.Printf("%-10s %s %s (since %s)\n",
			ident.ID, ident.GivenName, ident.FamilyName,
			ident.CreatedAt.Format("2006-01-02"))
	}
	fmt.Printf("\nTotal: %d\n", len(idents))
	return nil
}
