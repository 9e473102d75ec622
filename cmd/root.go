package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "panopticon",
	Short: "Identity enrollment and verification for face access control",
	Long: `Panopticon maintains a registry of face identities backed by PostgreSQL.
Each identity carries a running-average reference embedding; new sightings
are verified against the registry by Euclidean distance and every decision
lands in an append-only audit trail.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
