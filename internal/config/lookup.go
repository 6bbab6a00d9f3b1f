package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MissingKeyError reports required settings that resolved to an empty value.
// It is fatal at startup, before any model is loaded.
type MissingKeyError struct {
	Keys []string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("config: required setting not found: %s", strings.Join(e.Keys, ", "))
}

// Lookup exposes the configuration as a flat key/value view. Keys use the
// dotted file layout, e.g. "engine.model_path" or "translation.enabled".
// Empty values report ok == false.
func (c Config) Lookup(key string) (string, bool) {
	v, ok := c.flatten()[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Keys lists every key understood by Lookup.
func (c Config) Keys() []string {
	flat := c.flatten()
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Require returns a *MissingKeyError naming every key that is absent.
func (c Config) Require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if _, ok := c.Lookup(key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &MissingKeyError{Keys: missing}
	}
	return nil
}

// RequiredKeys returns the settings a pipeline needs for the selected backend
// and feature toggles. withPrompts adds the turn prompts used by the run command.
func (c Config) RequiredKeys(withPrompts bool) []string {
	keys := []string{"engine.backend"}
	switch strings.ToLower(strings.TrimSpace(c.Engine.Backend)) {
	case "llama":
		keys = append(keys, "engine.model_path")
	case "http":
		keys = append(keys, "engine.http.base_url")
	}
	if c.Translation.Enabled && c.Translation.UseRAG {
		keys = append(keys, "rag.corpus_path")
	}
	if withPrompts {
		keys = append(keys, "prompts.system", "prompts.user")
	}
	return keys
}

func (c Config) flatten() map[string]string {
	return map[string]string{
		"engine.backend":                     c.Engine.Backend,
		"engine.model_path":                  c.Engine.ModelPath,
		"engine.http.base_url":               c.Engine.HTTP.BaseURL,
		"engine.scripted.responder":          c.Engine.Scripted.Responder,
		"generation.min_length":              strconv.Itoa(c.Generation.MinLength),
		"generation.max_length":              strconv.Itoa(c.Generation.MaxLength),
		"generation.top_p":                   strconv.FormatFloat(c.Generation.TopP, 'g', -1, 64),
		"generation.step_delay":              c.Generation.StepDelay,
		"prompts.system":                     c.Prompts.System,
		"prompts.user":                       c.Prompts.User,
		"translation.enabled":                strconv.FormatBool(c.Translation.Enabled),
		"translation.use_rag":                strconv.FormatBool(c.Translation.UseRAG),
		"translation.augmentation_placement": c.Translation.AugmentationPlacement,
		"rag.corpus_path":                    c.RAG.CorpusPath,
		"rag.chunking":                       c.RAG.Chunking,
		"rag.page_count":                     strconv.Itoa(c.RAG.PageCount),
		"rag.threshold":                      strconv.FormatFloat(c.RAG.Threshold, 'g', -1, 64),
		"rag.index_backend":                  c.RAG.IndexBackend,
		"embedding.backend":                  c.Embedding.Backend,
		"server.host":                        c.Server.Host,
		"server.port":                        strconv.Itoa(c.Server.Port),
		"logging.level":                      c.Logging.Level,
		"transcript.enabled":                 strconv.FormatBool(c.Transcript.Enabled),
		"transcript.path":                    c.Transcript.Path,
	}
}
