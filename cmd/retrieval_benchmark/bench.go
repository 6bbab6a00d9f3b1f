package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/embedding"
	"Pivot/internal/vectordb"
)

// GlossaryCase is one glossary entry and the sentences that should retrieve it.
type GlossaryCase struct {
	Entry    string
	Queries  []string
	Category string
}

var glossaryCases = []GlossaryCase{
	{
		Entry:    "Cloud Strife = クラウド・ストライフ, former SOLDIER working as a mercenary",
		Queries:  []string{"Cloud Strife takes a job as a mercenary.", "クラウド・ストライフは傭兵だ。", "Who is Cloud Strife?"},
		Category: "character",
	},
	{
		Entry:    "Tifa Lockhart = ティファ・ロックハート, runs the Seventh Heaven bar",
		Queries:  []string{"Tifa Lockhart opens the bar.", "ティファ・ロックハートの店", "Seventh Heaven bar owner"},
		Category: "character",
	},
	{
		Entry:    "Mako = 魔晄, energy drawn from the planet's lifestream",
		Queries:  []string{"The reactor pumps Mako energy.", "魔晄エネルギー", "energy from the lifestream"},
		Category: "term",
	},
	{
		Entry:    "Midgar = ミッドガル, city built on plates above the slums",
		Queries:  []string{"Midgar city at night", "ミッドガルの街", "the slums under the plates"},
		Category: "place",
	},
	{
		Entry:    "AVALANCHE = アバランチ, resistance group opposing Shinra",
		Queries:  []string{"AVALANCHE plans an attack.", "アバランチのメンバー", "group opposing Shinra"},
		Category: "organisation",
	},
	{
		Entry:    "Shinra Electric Power Company = 神羅カンパニー, corporation running the reactors",
		Queries:  []string{"Shinra Electric Power Company announces", "神羅カンパニーの社長", "corporation running the reactors"},
		Category: "organisation",
	},
	{
		Entry:    "Materia = マテリア, crystallised Mako that grants magic",
		Queries:  []string{"equip the Materia", "マテリアを装備する", "crystallised Mako magic"},
		Category: "term",
	},
	{
		Entry:    "Sector 7 = 七番街, slum district beneath the plate",
		Queries:  []string{"Sector 7 slum district", "七番街スラム", "district beneath the plate"},
		Category: "place",
	},
}

// QueryResult is the outcome of one query.
type QueryResult struct {
	Entry     string        `json:"entry"`
	Query     string        `json:"query"`
	Retrieved string        `json:"retrieved"`
	Rank      int           `json:"rank"`
	Score     float64       `json:"score"`
	Latency   time.Duration `json:"latency_ns"`
}

// BackendResult aggregates one index backend.
type BackendResult struct {
	Backend      string        `json:"backend"`
	Entries      int           `json:"entries"`
	Queries      int           `json:"queries"`
	HitAt1       int           `json:"hit_at_1"`
	HitAtK       int           `json:"hit_at_k"`
	Failed       int           `json:"failed"`
	MRR          float64       `json:"mrr"`
	IndexTime    time.Duration `json:"index_time_ns"`
	AvgLatency   time.Duration `json:"avg_latency_ns"`
	QueryResults []QueryResult `json:"query_results"`
}

// Hit1Pct is the share of queries whose entry ranked first.
func (r BackendResult) Hit1Pct() float64 { return pct(r.HitAt1, r.Queries) }

// HitKPct is the share of queries whose entry ranked within k.
func (r BackendResult) HitKPct() float64 { return pct(r.HitAtK, r.Queries) }

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// runBackend indexes every case as its own document on the named backend and
// ranks each query against it.
func runBackend(ctx context.Context, backend string, cfg config.Config, cases []GlossaryCase, k int, logger *zap.Logger) (*BackendResult, error) {
	provider, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	ragCfg := cfg.RAG
	ragCfg.IndexBackend = backend
	index, err := vectordb.New(ragCfg, provider, logger)
	if err != nil {
		return nil, err
	}
	defer index.Close()

	result := &BackendResult{Backend: backend, Entries: len(cases)}

	start := time.Now()
	for i, c := range cases {
		source := fmt.Sprintf("entry-%d", i)
		opts := vectordb.ChunkOptions{Method: vectordb.Paragraph, Metadata: func(string) string { return source }}
		if _, err := index.AddDocument(ctx, c.Entry, opts); err != nil {
			return nil, fmt.Errorf("failed to index entry %d: %w", i, err)
		}
	}
	index.Freeze()
	result.IndexTime = time.Since(start)

	var totalLatency time.Duration
	var reciprocal float64
	for i, c := range cases {
		want := fmt.Sprintf("entry-%d", i)
		for _, q := range c.Queries {
			qStart := time.Now()
			hits, err := index.Search(ctx, q, k, 0)
			latency := time.Since(qStart)
			totalLatency += latency
			result.Queries++

			qr := QueryResult{Entry: c.Entry, Query: q, Latency: latency}
			switch {
			case err != nil:
				qr.Retrieved = "ERROR: " + err.Error()
				result.Failed++
			case len(hits) == 0:
				qr.Retrieved = "NO RESULTS"
			default:
				qr.Retrieved = hits[0].Text
				qr.Score = hits[0].Score
				for rank, h := range hits {
					if h.Source == want {
						qr.Rank = rank + 1
						break
					}
				}
			}
			if qr.Rank > 0 {
				result.HitAtK++
				reciprocal += 1 / float64(qr.Rank)
				if qr.Rank == 1 {
					result.HitAt1++
				}
			}
			result.QueryResults = append(result.QueryResults, qr)
		}
	}
	if result.Queries > 0 {
		result.AvgLatency = totalLatency / time.Duration(result.Queries)
		result.MRR = reciprocal / float64(result.Queries)
	}
	return result, nil
}

func printComparisonTable(results []*BackendResult, k int) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("GLOSSARY RETRIEVAL COMPARISON")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-24s", "Metric")
	for _, r := range results {
		fmt.Printf("%-18s", r.Backend)
	}
	fmt.Println()
	fmt.Println(strings.Repeat("-", 80))

	row := func(label string, cell func(*BackendResult) string) {
		fmt.Printf("%-24s", label)
		for _, r := range results {
			fmt.Printf("%-18s", cell(r))
		}
		fmt.Println()
	}
	row("Entries", func(r *BackendResult) string { return fmt.Sprint(r.Entries) })
	row("Queries", func(r *BackendResult) string { return fmt.Sprint(r.Queries) })
	row("Hit@1", func(r *BackendResult) string { return fmt.Sprintf("%.1f%%", r.Hit1Pct()) })
	row(fmt.Sprintf("Hit@%d", k), func(r *BackendResult) string { return fmt.Sprintf("%.1f%%", r.HitKPct()) })
	row("MRR", func(r *BackendResult) string { return fmt.Sprintf("%.3f", r.MRR) })
	row("Failed", func(r *BackendResult) string { return fmt.Sprint(r.Failed) })
	row("Index time", func(r *BackendResult) string { return r.IndexTime.Truncate(time.Microsecond).String() })
	row("Avg query latency", func(r *BackendResult) string { return r.AvgLatency.Truncate(time.Microsecond).String() })
	fmt.Println()
}

func printMisses(results []*BackendResult) {
	for _, r := range results {
		var misses []QueryResult
		for _, qr := range r.QueryResults {
			if qr.Rank != 1 {
				misses = append(misses, qr)
			}
		}
		if len(misses) == 0 {
			continue
		}
		fmt.Printf("%s misses:\n", r.Backend)
		for _, m := range misses {
			fmt.Printf("  ✗ %q -> %s\n", m.Query, truncate(m.Retrieved, 50))
		}
		fmt.Println()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
