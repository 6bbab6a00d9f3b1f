package config

import (
	"fmt"
	"strings"
	"time"
)

// Config captures engine, generation, translation, retrieval and server settings for Pivot.
type Config struct {
	Engine      EngineConfig      `yaml:"engine" toml:"engine" json:"engine"`
	Generation  GenerationConfig  `yaml:"generation" toml:"generation" json:"generation"`
	Prompts     PromptsConfig     `yaml:"prompts" toml:"prompts" json:"prompts"`
	Translation TranslationConfig `yaml:"translation" toml:"translation" json:"translation"`
	RAG         RAGConfig         `yaml:"rag" toml:"rag" json:"rag"`
	Embedding   EmbeddingConfig   `yaml:"embedding" toml:"embedding" json:"embedding"`
	Server      ServerConfig      `yaml:"server" toml:"server" json:"server"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging" json:"logging"`
	Transcript  TranscriptConfig  `yaml:"transcript" toml:"transcript" json:"transcript"`
}

// EngineConfig selects which inference backend loads the model.
type EngineConfig struct {
	Backend   string            `yaml:"backend" toml:"backend" json:"backend"`
	ModelPath string            `yaml:"model_path" toml:"model_path" json:"model_path"`
	HTTP      HTTPEngineConfig  `yaml:"http" toml:"http" json:"http"`
	Llama     LlamaEngineConfig `yaml:"llama" toml:"llama" json:"llama"`
	Scripted  ScriptedConfig    `yaml:"scripted" toml:"scripted" json:"scripted"`
}

// HTTPEngineConfig configures the llama.cpp server backend.
type HTTPEngineConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url" json:"base_url"`
	Timeout string `yaml:"timeout" toml:"timeout" json:"timeout"`
}

// LlamaEngineConfig configures the in-process llama.cpp backend.
type LlamaEngineConfig struct {
	ContextSize int `yaml:"context_size" toml:"context_size" json:"context_size"`
	Threads     int `yaml:"threads" toml:"threads" json:"threads"`
	GPULayers   int `yaml:"gpu_layers" toml:"gpu_layers" json:"gpu_layers"`
}

// ScriptedConfig configures the deterministic pure-Go backend.
type ScriptedConfig struct {
	Responder string `yaml:"responder" toml:"responder" json:"responder"`
	Encoding  string `yaml:"encoding" toml:"encoding" json:"encoding"`
}

// GenerationConfig holds the per-session generation request defaults.
type GenerationConfig struct {
	MinLength   int      `yaml:"min_length" toml:"min_length" json:"min_length"`
	MaxLength   int      `yaml:"max_length" toml:"max_length" json:"max_length"`
	Temperature float64  `yaml:"temperature" toml:"temperature" json:"temperature"`
	TopK        int      `yaml:"top_k" toml:"top_k" json:"top_k"`
	TopP        float64  `yaml:"top_p" toml:"top_p" json:"top_p"`
	BatchHint   int      `yaml:"batch_hint" toml:"batch_hint" json:"batch_hint"`
	StepDelay   string   `yaml:"step_delay" toml:"step_delay" json:"step_delay"`
	StopMarkers []string `yaml:"stop_markers" toml:"stop_markers" json:"stop_markers"`
}

// PromptsConfig holds the texts of one interactive turn.
type PromptsConfig struct {
	System string `yaml:"system" toml:"system" json:"system"`
	User   string `yaml:"user" toml:"user" json:"user"`
}

// TranslationConfig governs pivot translation around the primary answer.
type TranslationConfig struct {
	Enabled               bool            `yaml:"enabled" toml:"enabled" json:"enabled"`
	UseRAG                bool            `yaml:"use_rag" toml:"use_rag" json:"use_rag"`
	AugmentationPlacement string          `yaml:"augmentation_placement" toml:"augmentation_placement" json:"augmentation_placement"`
	AtoB                  DirectionConfig `yaml:"a_to_b" toml:"a_to_b" json:"a_to_b"`
	BtoA                  DirectionConfig `yaml:"b_to_a" toml:"b_to_a" json:"b_to_a"`
}

// DirectionConfig overrides the templates of one translation direction.
// Empty fields keep the built-in template.
type DirectionConfig struct {
	System            string `yaml:"system" toml:"system" json:"system"`
	Instruction       string `yaml:"instruction" toml:"instruction" json:"instruction"`
	AugmentationLabel string `yaml:"augmentation_label" toml:"augmentation_label" json:"augmentation_label"`
}

// RAGConfig governs the document corpus and retrieval parameters.
type RAGConfig struct {
	CorpusPath    string   `yaml:"corpus_path" toml:"corpus_path" json:"corpus_path"`
	Extensions    []string `yaml:"extensions" toml:"extensions" json:"extensions"`
	Chunking      string   `yaml:"chunking" toml:"chunking" json:"chunking"`
	MaxChunkChars int      `yaml:"max_chunk_chars" toml:"max_chunk_chars" json:"max_chunk_chars"`
	PageCount     int      `yaml:"page_count" toml:"page_count" json:"page_count"`
	Threshold     float64  `yaml:"threshold" toml:"threshold" json:"threshold"`
	IndexBackend  string   `yaml:"index_backend" toml:"index_backend" json:"index_backend"`
	DuckDBPath    string   `yaml:"duckdb_path" toml:"duckdb_path" json:"duckdb_path"`
	Concurrency   int      `yaml:"concurrency" toml:"concurrency" json:"concurrency"`
}

// EmbeddingConfig captures settings for the embedding providers used by the index.
type EmbeddingConfig struct {
	Backend  string                  `yaml:"backend" toml:"backend" json:"backend"`
	Hashing  HashingEmbeddingConfig  `yaml:"hashing" toml:"hashing" json:"hashing"`
	LlamaCpp LlamaCppEmbeddingConfig `yaml:"llamacpp" toml:"llamacpp" json:"llamacpp"`
	Cache    EmbeddingCacheConfig    `yaml:"cache" toml:"cache" json:"cache"`
}

// HashingEmbeddingConfig configures the feature-hashing embedder.
type HashingEmbeddingConfig struct {
	Dimensions int `yaml:"dimensions" toml:"dimensions" json:"dimensions"`
}

// LlamaCppEmbeddingConfig configures llama.cpp embedding server usage.
type LlamaCppEmbeddingConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url" json:"base_url"`
	Model   string `yaml:"model" toml:"model" json:"model"`
	Timeout string `yaml:"timeout" toml:"timeout" json:"timeout"`
}

// EmbeddingCacheConfig configures the TTL cache in front of the embedding provider.
type EmbeddingCacheConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	TTL      string `yaml:"ttl" toml:"ttl" json:"ttl"`
	Capacity uint64 `yaml:"capacity" toml:"capacity" json:"capacity"`
}

// ServerConfig defines HTTP server settings for the serve command.
type ServerConfig struct {
	Host    string `yaml:"host" toml:"host" json:"host"`
	Port    int    `yaml:"port" toml:"port" json:"port"`
	MaxWait string `yaml:"max_wait" toml:"max_wait" json:"max_wait"`
	Metrics bool   `yaml:"metrics" toml:"metrics" json:"metrics"`
}

// LoggingConfig selects the log level, encoding and destination.
type LoggingConfig struct {
	Level    string `yaml:"level" toml:"level" json:"level"`
	Encoding string `yaml:"encoding" toml:"encoding" json:"encoding"`
	ToFile   bool   `yaml:"to_file" toml:"to_file" json:"to_file"`
	Dir      string `yaml:"dir" toml:"dir" json:"dir"`
}

// TranscriptConfig configures the optional SQLite turn log.
type TranscriptConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Path    string `yaml:"path" toml:"path" json:"path"`
}

const defaultConfigFile = "pivot.yaml"

// Default returns a Config pre-populated with opinionated defaults for a local Phi-class SLM.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Backend: "http",
			HTTP: HTTPEngineConfig{
				BaseURL: "http://127.0.0.1:8080",
				Timeout: "60s",
			},
			Llama: LlamaEngineConfig{
				ContextSize: 4096,
				Threads:     4,
			},
			Scripted: ScriptedConfig{
				Responder: "echo",
				Encoding:  "cl100k_base",
			},
		},
		Generation: GenerationConfig{
			MinLength:   100,
			MaxLength:   2000,
			Temperature: 0,
			TopK:        0,
			TopP:        0.9,
			BatchHint:   1,
			StepDelay:   "0s",
			StopMarkers: []string{"<|end|>", "<|user|>", "<|system|>"},
		},
		Translation: TranslationConfig{
			Enabled:               true,
			UseRAG:                false,
			AugmentationPlacement: "user",
		},
		RAG: RAGConfig{
			Extensions:    []string{".txt", ".md", ".mdx", ".pdf"},
			Chunking:      "paragraph",
			MaxChunkChars: 2000,
			PageCount:     3,
			Threshold:     0.3,
			IndexBackend:  "memory",
			DuckDBPath:    "",
			Concurrency:   8,
		},
		Embedding: EmbeddingConfig{
			Backend: "hashing",
			Hashing: HashingEmbeddingConfig{Dimensions: 4096},
			LlamaCpp: LlamaCppEmbeddingConfig{
				BaseURL: "http://127.0.0.1:8081",
				Timeout: "30s",
			},
			Cache: EmbeddingCacheConfig{
				Enabled:  false,
				TTL:      "10m",
				Capacity: 4096,
			},
		},
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    42068,
			MaxWait: "30s",
			Metrics: true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Transcript: TranscriptConfig{
			Enabled: false,
			Path:    "pivot_transcript.db",
		},
	}
}

// StepDelay parses generation.step_delay. Empty means no delay.
func (c Config) StepDelay() (time.Duration, error) {
	return parseDuration("generation.step_delay", c.Generation.StepDelay, 0)
}

// ServerMaxWait parses server.max_wait. Empty means 30s.
func (c Config) ServerMaxWait() (time.Duration, error) {
	return parseDuration("server.max_wait", c.Server.MaxWait, 30*time.Second)
}

func parseDuration(key, v string, fallback time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative duration", key, v)
	}
	return d, nil
}
