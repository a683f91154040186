package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/rangefx-bot/pkg/report"
)

func main() {
	// Parse command-line flags
	csvDirFlag := flag.String("csv-dir", "data/backtest_results", "Directory containing trade record CSVs")
	outputFlag := flag.String("output", "", "Output file path (default: stdout)")
	formatFlag := flag.String("format", "text", "Output format: text or json")
	flag.Parse()

	fmt.Println("Analyzing trade records...")
	fmt.Printf("CSV Directory: %s\n", *csvDirFlag)

	// Load all CSV files
	files, err := filepath.Glob(filepath.Join(*csvDirFlag, "*.csv"))
	if err != nil {
		log.Fatalf("Failed to list CSV files: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("No CSV files found in %s", *csvDirFlag)
	}

	var records []report.Record
	for _, file := range files {
		recs, err := report.ReadCSV(file)
		if err != nil {
			fmt.Printf("Warning: Failed to load %s: %v\n", file, err)
			continue
		}
		records = append(records, recs...)
	}
	fmt.Printf("Loaded %d trade records from %d file(s)\n\n", len(records), len(files))

	summary := report.Summarize(records)

	out := os.Stdout
	if *outputFlag != "" {
		f, err := os.Create(*outputFlag)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	switch *formatFlag {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.Fatalf("Failed to encode summary: %v", err)
		}
	case "text":
		report.Print(out, summary, nil)
	default:
		log.Fatalf("Unknown format %q, use text or json", *formatFlag)
	}

	if *outputFlag != "" {
		fmt.Printf("Report saved to: %s\n", *outputFlag)
	}
}
