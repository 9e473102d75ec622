package cmd

import (
	"context"
	"fmt"

	"github.com/panopticon-door/panopticon/internal/config"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <given-name> <family-name>",
	Short: "Register a face sample under a person's name",
	Long: `Registers a face sample under a person's name.
A new person gets a fresh identity; a repeated enrollment of a known
person folds the sample into their reference embedding instead.

The sample comes from --embedding-file (a JSON array of floats) or from
--image, which is sent to the embedding service first.`,
	Args: cobra.ExactArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("embedding-file", "", "JSON file containing the embedding vector")
	enrollCmd.Flags().String("image", "", "Face image to send to the embedding service")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	givenName, familyName := args[0], args[1]

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

	result, err := eng.Enroll(ctx, givenName, familyName, embedding)
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}

	if result.Created {
		fmt.Printf("Created identity %s for %s %s\n", result.IdentityID, givenName, familyName)
	} else {
		fmt.Printf("Folded sample into existing identity %s\n", result.IdentityID)
	}
	return nil
}
