package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/panopticon-door/panopticon/internal/config"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Bulk-enroll face samples from a JSONL file",
	Long: `Bulk-enrolls face samples from a JSONL file.
Each line holds one sample:

  {"given_name": "Minna", "family_name": "Kim", "embedding": [0.1, ...]}

Samples for the same person fold into a single identity, so a person may
appear on any number of lines.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

type importRecord struct {
	GivenName  string    `json:"given_name"`
	FamilyName string    `json:"family_name"`
	Embedding  []float32 `json:"embedding"`
}

func runImport(cmd *cobra.Command, args []string) error {
	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	// Count lines first so the progress bar has a total.
	var total int
	counter := bufio.NewScanner(file)
	counter.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for counter.Scan() {
		if len(counter.Bytes()) > 0 {
			total++
		}
	}
	if err := counter.Err(); err != nil {
		return fmt.Errorf("failed to scan import file: %w", err)
	}
	if total == 0 {
		fmt.Println("Nothing to import")
		return nil
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to rewind import file: %w", err)
	}

	cfg := config.Load()
	eng, pool, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := context.Background()

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var created, folded, failed int
	lineNo := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lineNo++

		var rec importRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			fmt.Fprintf(os.Stderr, "\nline %d: invalid JSON: %v\n", lineNo, err)
			failed++
			bar.Add(1)
			continue
		}

		result, err := eng.Enroll(ctx, rec.GivenName, rec.FamilyName, rec.Embedding)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nline %d (%s %s): %v\n", lineNo, rec.GivenName, rec.FamilyName, err)
			failed++
			bar.Add(1)
			continue
		}
		if result.Created {
			created++
		} else {
			folded++
		}
		bar.Add(1)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}

	fmt.Printf("\n\nImport complete:\n")
	fmt.Printf("  New identities:  %d\n", created)
	fmt.Printf("  Folded samples:  %d\n", folded)
	if failed > 0 {
		fmt.Printf("  Failed:          %d\n", failed)
	}
	return nil
}
