package cmd

import (
	"context"
	"fmt"

	"github.com/panopticon-door/panopticon/internal/config"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Match a face sample against the registered identities",
	Long: `Matches a face sample against every registered identity and reports
the nearest one when it falls within the match threshold. The attempt is
recorded in the audit trail either way.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("embedding-file", "", "JSON file containing the embedding vector")
	verifyCmd.Flags().String("image", "", "Face image to send to the embedding service")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()

	embedding, err := resolveEmbedding(ctx, cmd, cfg)
	if err != nil {
		return err
	}

	eng, pool, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	result, err := eng.Verify(ctx, embedding)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	switch {
	case result.Matched && result.Refined:
		fmt.Printf("Match: %s (distance %.4f, reference refined)\n", result.IdentityID, result.Distance)
	case result.Matched:
		fmt.Printf("Match: %s (distance %.4f)\n", result.IdentityID, result.Distance)
	case result.HasDistance:
		fmt.Printf("Unknown face (nearest distance %.4f)\n", result.Distance)
	default:
		fmt.Println("Unknown face (no identities registered)")
	}
	return nil
}
