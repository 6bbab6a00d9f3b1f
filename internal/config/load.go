package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Resolve loads configuration from file and environment variables.
// An explicit path wins over APP_CONFIG; without either, pivot.yaml in the
// working directory is used when present. When APP_ENV is set, an overlay file
// named like pivot.<env>.yaml next to the base file is merged on top.
func Resolve(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("APP_CONFIG"))
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), fmt.Errorf("config file %q not found", path)
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
		if env := strings.TrimSpace(os.Getenv("APP_ENV")); env != "" {
			overlay := overlayPath(path, env)
			if _, err := os.Stat(overlay); err == nil {
				if err := loadInto(overlay, &cfg); err != nil {
					return cfg, err
				}
			}
		}
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// Load reads a single file on top of the defaults without consulting the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := loadInto(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overlayPath(path, env string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + strings.ToLower(env) + ext
}

// loadInto decodes the file over cfg so that keys absent from the file keep
// their current values.
func loadInto(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config %q: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".json":
		err = sonic.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("APP_ENGINE_BACKEND")); v != "" {
		cfg.Engine.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_MODEL_PATH")); v != "" {
		cfg.Engine.ModelPath = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_LLM_BASEURL")); v != "" {
		cfg.Engine.HTTP.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_SYSMSG")); v != "" {
		cfg.Prompts.System = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_PROMPT")); v != "" {
		cfg.Prompts.User = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_MAX_LENGTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Generation.MaxLength = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_STEP_DELAY")); v != "" {
		cfg.Generation.StepDelay = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRANSLATE")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Translation.Enabled = enabled
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_USE_RAG")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Translation.UseRAG = enabled
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_AUGMENTATION_PLACEMENT")); v != "" {
		cfg.Translation.AugmentationPlacement = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_RAG_CORPUS")); v != "" {
		cfg.RAG.CorpusPath = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_RAG_PAGECOUNT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RAG.PageCount = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_RAG_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RAG.Threshold = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_RAG_INDEX")); v != "" {
		cfg.RAG.IndexBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_RAG_EXTENSIONS")); v != "" {
		parts := strings.Split(v, ",")
		cfg.RAG.Extensions = make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if !strings.HasPrefix(trimmed, ".") {
				trimmed = "." + trimmed
			}
			cfg.RAG.Extensions = append(cfg.RAG.Extensions, strings.ToLower(trimmed))
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_EMBEDDING_BACKEND")); v != "" {
		cfg.Embedding.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_EMBEDDING_BASEURL")); v != "" {
		cfg.Embedding.LlamaCpp.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_SERVER_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_SERVER_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_LOG_FILE")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.ToFile = enabled
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRANSCRIPT_ENABLED")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Transcript.Enabled = enabled
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRANSCRIPT_PATH")); v != "" {
		cfg.Transcript.Path = v
	}
}
