// Package inferbench measures translation session throughput on the loaded
// engine: time to first fragment, wall time and generation rate per prompt.
package inferbench

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"

	"Pivot/internal/generation"
	"Pivot/internal/prompt"
	"Pivot/internal/translate"
)

// Translator runs one translation session. *pipeline.Pipeline satisfies it.
type Translator interface {
	Translate(ctx context.Context, text string, dir prompt.Direction, useRAG *bool, sink translate.Sink) translate.Result
}

// Config controls the benchmark parameters.
type Config struct {
	Iterations       int      `json:"iterations"`
	WarmupIterations int      `json:"warmup_iterations"`
	Prompts          []Prompt `json:"prompts"`
	// UseRAG forces glossary augmentation on or off; nil keeps the configured default.
	UseRAG     *bool  `json:"use_rag,omitempty"`
	OutputPath string `json:"-"`
	Verbose    bool   `json:"-"`
}

// DefaultConfig returns small defaults suited to edge devices.
func DefaultConfig() Config {
	return Config{
		Iterations:       5,
		WarmupIterations: 1,
	}
}

// Prompt is a single benchmark text with its direction.
type Prompt struct {
	Name      string           `json:"name"`
	Text      string           `json:"text"`
	Direction prompt.Direction `json:"direction"`
}

// StandardPrompts exercise short, medium and long inputs in both directions.
func StandardPrompts() []Prompt {
	return []Prompt{
		{Name: "short-a_to_b", Text: "おはようございます。", Direction: prompt.AtoB},
		{
			Name:      "medium-a_to_b",
			Text:      "ミッドガルの七番街スラムにある酒場で、ティファは店を切り盛りしながらアバランチの活動を支えている。",
			Direction: prompt.AtoB,
		},
		{
			Name: "long-b_to_a",
			Text: "Cloud Strife, a former SOLDIER turned mercenary, agrees to help AVALANCHE bomb a Mako reactor. " +
				"The group believes the Shinra Electric Power Company is draining the planet's lifestream, " +
				"and after the mission he begins to question his own memories of the past.",
			Direction: prompt.BtoA,
		},
	}
}

// IterationResult captures one translation session.
type IterationResult struct {
	PromptName      string        `json:"prompt_name"`
	Iteration       int           `json:"iteration"`
	TTFF            time.Duration `json:"ttff_ns"`
	Duration        time.Duration `json:"duration_ns"`
	PromptTokens    int           `json:"prompt_tokens"`
	TokensGenerated int           `json:"tokens_generated"`
	Fragments       int           `json:"fragments"`
	GenerationTPS   float64       `json:"generation_tps"`
	RSSBytes        int64         `json:"rss_bytes"`
	Error           string        `json:"error,omitempty"`
}

// PromptSummary aggregates results across iterations for a single prompt.
type PromptSummary struct {
	Name          string        `json:"name"`
	Iterations    int           `json:"iterations"`
	TTFF          DurationStats `json:"ttff"`
	Duration      DurationStats `json:"duration"`
	GenerationTPS FloatStats    `json:"generation_tps"`
	AvgTokensGen  float64       `json:"avg_tokens_generated"`
	AvgFragments  float64       `json:"avg_fragments"`
	PeakRSSBytes  int64         `json:"peak_rss_bytes"`
	Errors        int           `json:"errors"`
}

// DurationStats summarises a collection of time.Duration values.
type DurationStats struct {
	Min    time.Duration `json:"min_ns"`
	Max    time.Duration `json:"max_ns"`
	Mean   time.Duration `json:"mean_ns"`
	Median time.Duration `json:"median_ns"`
	P95    time.Duration `json:"p95_ns"`
}

// FloatStats summarises a collection of float64 values.
type FloatStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

// BenchmarkReport is the top-level result container.
type BenchmarkReport struct {
	Timestamp time.Time         `json:"timestamp"`
	Backend   string            `json:"backend"`
	Config    Config            `json:"config"`
	Summaries []PromptSummary   `json:"summaries"`
	Raw       []IterationResult `json:"raw_results,omitempty"`
}

// Runner executes the benchmark against a Translator.
type Runner struct {
	tr      Translator
	cfg     Config
	backend string
	out     io.Writer
}

// NewRunner creates a benchmark runner writing progress to out.
func NewRunner(tr Translator, backend string, cfg Config, out io.Writer) *Runner {
	if len(cfg.Prompts) == 0 {
		cfg.Prompts = StandardPrompts()
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 1
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{tr: tr, cfg: cfg, backend: backend, out: out}
}

// Run executes the full suite and returns a report.
func (r *Runner) Run(ctx context.Context) (*BenchmarkReport, error) {
	report := &BenchmarkReport{Timestamp: time.Now(), Backend: r.backend, Config: r.cfg}

	for _, p := range r.cfg.Prompts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fmt.Fprintf(r.out, "\n--- Benchmark: %s (%s) ---\n", p.Name, p.Direction)

		for i := 0; i < r.cfg.WarmupIterations; i++ {
			if r.cfg.Verbose {
				fmt.Fprintf(r.out, "  warmup %d/%d...\n", i+1, r.cfg.WarmupIterations)
			}
			r.runOnce(ctx, p, -1)
		}

		results := make([]IterationResult, 0, r.cfg.Iterations)
		for i := 0; i < r.cfg.Iterations; i++ {
			res := r.runOnce(ctx, p, i)
			if r.cfg.Verbose {
				fmt.Fprintf(r.out, "  iteration %d: TTFF=%v gen=%d tok @ %.1f tok/s\n",
					i+1, res.TTFF.Round(time.Millisecond), res.TokensGenerated, res.GenerationTPS)
			}
			results = append(results, res)
		}

		summary := summarize(p.Name, results)
		report.Summaries = append(report.Summaries, summary)
		report.Raw = append(report.Raw, results...)
		printSummary(r.out, summary)
	}

	if r.cfg.OutputPath != "" {
		if err := saveReport(report, r.cfg.OutputPath); err != nil {
			fmt.Fprintf(r.out, "Warning: failed to save report: %v\n", err)
		} else {
			fmt.Fprintf(r.out, "\nResults saved to %s\n", r.cfg.OutputPath)
		}
	}
	return report, nil
}

func (r *Runner) runOnce(ctx context.Context, p Prompt, iteration int) IterationResult {
	result := IterationResult{PromptName: p.Name, Iteration: iteration}

	start := time.Now()
	var first time.Duration
	fragments := 0
	res := r.tr.Translate(ctx, p.Text, p.Direction, r.cfg.UseRAG, func(string) {
		if fragments == 0 {
			first = time.Since(start)
		}
		fragments++
	})
	result.Duration = time.Since(start)
	result.TTFF = first
	result.Fragments = fragments
	result.PromptTokens = res.Stats.PromptTokens
	result.TokensGenerated = res.Stats.GeneratedTokens
	result.GenerationTPS = res.Stats.TokensPerSecond()
	result.RSSBytes = readRSS()
	if res.Kind == generation.Faulted {
		result.Error = res.Error
		if result.Error == "" {
			result.Error = "faulted"
		}
	}
	return result
}

func summarize(name string, results []IterationResult) PromptSummary {
	summary := PromptSummary{Name: name}

	valid := filterValid(filterByName(results, name))
	summary.Iterations = len(valid)
	summary.Errors = len(results) - len(valid)
	if len(valid) == 0 {
		return summary
	}

	summary.TTFF = computeDurationStats(extractDurations(valid, func(r IterationResult) time.Duration { return r.TTFF }))
	summary.Duration = computeDurationStats(extractDurations(valid, func(r IterationResult) time.Duration { return r.Duration }))
	summary.GenerationTPS = computeFloatStats(extractFloats(valid, func(r IterationResult) float64 { return r.GenerationTPS }))

	var tokSum, fragSum float64
	for _, r := range valid {
		tokSum += float64(r.TokensGenerated)
		fragSum += float64(r.Fragments)
		summary.PeakRSSBytes = max(summary.PeakRSSBytes, r.RSSBytes)
	}
	summary.AvgTokensGen = tokSum / float64(len(valid))
	summary.AvgFragments = fragSum / float64(len(valid))
	return summary
}

func filterByName(results []IterationResult, name string) []IterationResult {
	var out []IterationResult
	for _, r := range results {
		if r.PromptName == name {
			out = append(out, r)
		}
	}
	return out
}

func filterValid(results []IterationResult) []IterationResult {
	var out []IterationResult
	for _, r := range results {
		if r.Error == "" {
			out = append(out, r)
		}
	}
	return out
}

func extractDurations(results []IterationResult, fn func(IterationResult) time.Duration) []time.Duration {
	out := make([]time.Duration, len(results))
	for i, r := range results {
		out[i] = fn(r)
	}
	return out
}

func extractFloats(results []IterationResult, fn func(IterationResult) float64) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = fn(r)
	}
	return out
}

func computeDurationStats(vals []time.Duration) DurationStats {
	if len(vals) == 0 {
		return DurationStats{}
	}
	sorted := append([]time.Duration(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return DurationStats{
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   sum / time.Duration(n),
		Median: median,
		P95:    sorted[percentileIndex(n, 95)],
	}
}

func computeFloatStats(vals []float64) FloatStats {
	if len(vals) == 0 {
		return FloatStats{}
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return FloatStats{
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   sum / float64(n),
		Median: median,
		P95:    sorted[percentileIndex(n, 95)],
	}
}

// percentileIndex is the nearest-rank index ceil(n*pct/100)-1, clamped to [0, n-1].
func percentileIndex(n, pct int) int {
	if n <= 0 {
		return 0
	}
	idx := (n*pct+99)/100 - 1
	return min(max(idx, 0), n-1)
}

func printSummary(w io.Writer, s PromptSummary) {
	fmt.Fprintf(w, "  TTFF:      min=%v  avg=%v  p95=%v\n",
		s.TTFF.Min.Round(time.Millisecond), s.TTFF.Mean.Round(time.Millisecond), s.TTFF.P95.Round(time.Millisecond))
	fmt.Fprintf(w, "  Duration:  min=%v  avg=%v  p95=%v\n",
		s.Duration.Min.Round(time.Millisecond), s.Duration.Mean.Round(time.Millisecond), s.Duration.P95.Round(time.Millisecond))
	fmt.Fprintf(w, "  Gen TPS:   min=%.1f  avg=%.1f  p95=%.1f\n",
		s.GenerationTPS.Min, s.GenerationTPS.Mean, s.GenerationTPS.P95)
	fmt.Fprintf(w, "  Tokens:    avg_gen=%.0f  avg_fragments=%.0f\n", s.AvgTokensGen, s.AvgFragments)
	if s.PeakRSSBytes > 0 {
		fmt.Fprintf(w, "  RSS:       peak=%.1f MB\n", float64(s.PeakRSSBytes)/(1024*1024))
	}
	if s.Errors > 0 {
		fmt.Fprintf(w, "  Errors:    %d/%d\n", s.Errors, s.Iterations+s.Errors)
	}
}

func saveReport(report *BenchmarkReport, path string) error {
	data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
