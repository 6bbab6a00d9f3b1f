// Command retrieval_benchmark measures glossary retrieval quality and latency
// across the corpus index backends.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/logging"
)

func main() {
	var (
		configPath string
		backends   []string
		k          int
		outPath    string
	)
	cmd := &cobra.Command{
		Use:          "retrieval_benchmark",
		Short:        "Compare glossary retrieval across index backends",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(configPath)
			if err != nil {
				return err
			}
			logger, closer, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer closer()
			return run(cmd.Context(), cfg, backends, k, outPath, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file for the embedding settings")
	cmd.Flags().StringSliceVar(&backends, "backends", []string{"memory", "hnsw", "duckdb"}, "index backends to compare")
	cmd.Flags().IntVarP(&k, "k", "k", 3, "passages retrieved per query")
	cmd.Flags().StringVar(&outPath, "out", "retrieval_accuracy_results.json", "results file (empty to skip)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, backends []string, k int, outPath string, logger *zap.Logger) error {
	queries := 0
	for _, c := range glossaryCases {
		queries += len(c.Queries)
	}
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("PIVOT GLOSSARY RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Dataset: %d glossary entries, %d queries\n", len(glossaryCases), queries)
	fmt.Printf("Embedding backend: %s\n", cfg.Embedding.Backend)

	results := make([]*BackendResult, 0, len(backends))
	for _, backend := range backends {
		fmt.Printf("\n[%s] indexing and querying...\n", strings.ToUpper(backend))
		res, err := runBackend(ctx, backend, cfg, glossaryCases, k, logger)
		if err != nil {
			fmt.Printf("  %s failed: %v\n", backend, err)
			continue
		}
		fmt.Printf("  ✓ hit@1 %.1f%%, MRR %.3f\n", res.Hit1Pct(), res.MRR)
		results = append(results, res)
	}
	if len(results) == 0 {
		return fmt.Errorf("no backend completed")
	}

	printComparisonTable(results, k)
	printMisses(results)

	if outPath != "" {
		data, err := sonic.ConfigStd.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("✓ Results saved to %s\n", outPath)
	}
	return nil
}
