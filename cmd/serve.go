package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panopticon-door/panopticon/internal/config"
	"github.com/panopticon-door/panopticon/internal/embedder"
	"github.com/panopticon-door/panopticon/internal/thumbs"
	"github.com/panopticon-door/panopticon/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrollment and verification API server",
	Long: `Start the Panopticon HTTP API.
The server exposes enrollment, verification, identity listing and the
audit trail over JSON, plus an image endpoint that delegates embedding
extraction to the configured embedding service.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves host and port, letting explicit flags win
// over the environment-driven config.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) (string, int) {
	host := mustGetString(cmd, "host")
	port := mustGetInt(cmd, "port")

	if !cmd.Flags().Changed("host") && cfg.Web.Host != "" {
		host = cfg.Web.Host
	}
	if !cmd.Flags().Changed("port") && cfg.Web.Port != 0 {
		port = cfg.Web.Port
	}
	return host, port
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	fmt.Printf("Connecting to PostgreSQL database...\n")
	eng, pool, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := context.Background()

	if cfg.Match.HNSWEnabled {
		fmt.Printf("Building in-memory HNSW index for verification...\n")
		if err := eng.RebuildIndex(ctx); err != nil {
			fmt.Printf("Warning: failed to build HNSW index: %v\n", err)
			fmt.Printf("Verification will use linear centroid scans\n")
		}
	}

	var embedClient *embedder.Client
	if cfg.Embedding.URL != "" {
		embedClient = embedder.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
		fmt.Printf("Embedding service: %s\n", cfg.Embedding.URL)
	} else {
		fmt.Printf("No embedding service configured, image enrollment disabled\n")
	}

	var thumbStore *thumbs.Store
	if cfg.Thumbs.Dir != "" {
		thumbStore, err = thumbs.NewStore(cfg.Thumbs.Dir, cfg.Thumbs.Size)
		if err != nil {
			return fmt.Errorf("failed to prepare thumbnail storage: %w", err)
		}
		fmt.Printf("Thumbnail storage: %s\n", cfg.Thumbs.Dir)
	}

	host, port := resolveServeHostPort(cmd, cfg)
	server := web.NewServer(eng, embedClient, thumbStore, host, port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Panopticon API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
