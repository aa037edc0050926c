package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"asset-tracker-api/internal/config"
	"asset-tracker-api/internal/handlers"
	"asset-tracker-api/internal/store"
	"asset-tracker-api/internal/tracking"
	"asset-tracker-api/pkg/importer"

	"github.com/spf13/pflag"
)

func main() {
	var (
		filePath    = pflag.String("file", "", "Path to the .xlsx workbook (required)")
		mappingPath = pflag.String("mapping", "", "Column mapping YAML, e.g. configs/mapping/assets.yaml (default: built-in)")
		owner       = pflag.String("owner", "", "Owner recorded on tags bound by the import")
		dryRun      = pflag.Bool("dry-run", false, "Validate rows without writing")
		strict      = pflag.Bool("strict", false, "Count duplicate serials as errors")
		maxErrors   = pflag.Int("max-errors", 50, "Stop after this many row errors")
	)
	pflag.Parse()

	if *filePath == "" {
		fmt.Println("Error: --file is required")
		fmt.Println("Usage: import_excel --file=path.xlsx [--mapping=...] [--owner=...] [--dry-run] [--strict]")
		os.Exit(1)
	}

	opts := importer.ImportOptions{DryRun: *dryRun, Strict: *strict, MaxErrors: *maxErrors}
	if *mappingPath != "" {
		m, err := importer.LoadMapping(*mappingPath)
		if err != nil {
			log.Fatalf("Invalid mapping: %v", err)
		}
		opts.Mapping = m
	}

	cfg := config.Load()
	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Path:     cfg.SQLitePath,
		MaxConns: cfg.DBMaxConns,
		Migrate:  true,
	})
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.DBDriver, err)
	}
	defer db.Close()

	policy, err := tracking.ParseRebindPolicy(cfg.TagRebindPolicy)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	svc := tracking.New(db, tracking.Options{RebindPolicy: policy})

	file, err := os.Open(*filePath)
	if err != nil {
		log.Fatalf("Failed to open Excel file: %v", err)
	}
	defer file.Close()

	fmt.Printf("Importing from %s into %s store (dry_run=%v)\n", *filePath, cfg.DBDriver, *dryRun)
	fmt.Println("=" + strings.Repeat("=", 60))

	summary, importErr := importer.ImportExcel(ctx, &handlers.AssetSink{Service: svc, Owner: *owner}, file, opts)

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("IMPORT SUMMARY")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("Total inserted: %d\n", summary.Inserted)
	fmt.Printf("Total skipped: %d\n", summary.Skipped)
	fmt.Printf("Total errors: %d\n", summary.Errors)
	fmt.Printf("Dry run: %v\n", summary.DryRun)

	if len(summary.Sheets) > 0 {
		fmt.Println("\nSheet Details:")
		for _, sheet := range summary.Sheets {
			fmt.Printf("  %s: inserted=%d, skipped=%d, errors=%d\n",
				sheet.Name, sheet.Inserted, sheet.Skipped, sheet.Errors)

			if len(sheet.Samples) > 0 {
				fmt.Printf("    Error samples:\n")
				for _, sample := range sheet.Samples {
					fmt.Printf("      Row %d: %s\n", sample.Row, sample.Message)
				}
			}
		}
	}

	if importErr != nil {
		db.Close()
		file.Close()
		log.Fatalf("Import failed: %v", importErr)
	}
}
