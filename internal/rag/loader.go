// Package rag indexes a document corpus and turns retrieved passages into
// prompt augmentation.
package rag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	pdf "github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"Pivot/internal/config"
	"Pivot/internal/metrics"
	"Pivot/internal/vectordb"
)

// DefaultExtensions lists the document types indexed when none are configured.
var DefaultExtensions = []string{".txt", ".md", ".mdx", ".pdf"}

const defaultConcurrency = 4

// LoadStats summarises one corpus load.
type LoadStats struct {
	Documents int
	Chunks    int
	Skipped   int
	Elapsed   time.Duration
}

// Loader walks a corpus directory and adds every supported document to an index.
type Loader struct {
	root        string
	extensions  map[string]struct{}
	method      vectordb.Method
	maxChars    int
	concurrency int
	index       vectordb.Index
	logger      *zap.Logger
}

// NewLoader builds a loader from the rag configuration.
func NewLoader(cfg config.RAGConfig, index vectordb.Index, logger *zap.Logger) (*Loader, error) {
	method, err := vectordb.ParseMethod(cfg.Chunking)
	if err != nil {
		return nil, err
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		root:        cfg.CorpusPath,
		extensions:  normalizeExtensions(exts),
		method:      method,
		maxChars:    cfg.MaxChunkChars,
		concurrency: concurrency,
		index:       index,
		logger:      logger,
	}, nil
}

// Load indexes every supported file under the corpus root, several documents
// at a time, and freezes the index when done. Unreadable documents are logged
// and skipped.
func (l *Loader) Load(ctx context.Context) (LoadStats, error) {
	start := time.Now()
	defer l.index.Freeze()

	paths, err := Discover(l.root, l.extensions)
	if err != nil {
		return LoadStats{}, err
	}

	var (
		docs, chunks, skipped atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, path := range paths {
		g.Go(func() error {
			text, err := extractDocumentText(path)
			if err != nil {
				l.logger.Warn("skipping unreadable document", zap.String("path", path), zap.Error(err))
				skipped.Add(1)
				return nil
			}
			if strings.TrimSpace(text) == "" {
				skipped.Add(1)
				return nil
			}

			source := l.relative(path)
			n, err := l.index.AddDocument(gctx, text, vectordb.ChunkOptions{
				Method:   l.method,
				MaxChars: l.maxChars,
				Metadata: func(string) string { return source },
			})
			if err != nil {
				return fmt.Errorf("rag: index %s: %w", source, err)
			}
			docs.Add(1)
			chunks.Add(int64(n))
			metrics.RecordIndexed(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return LoadStats{}, err
	}

	stats := LoadStats{
		Documents: int(docs.Load()),
		Chunks:    int(chunks.Load()),
		Skipped:   int(skipped.Load()),
		Elapsed:   time.Since(start),
	}
	l.logger.Info("corpus indexed",
		zap.String("root", l.root),
		zap.Int("documents", stats.Documents),
		zap.Int("chunks", stats.Chunks),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("elapsed", stats.Elapsed),
	)
	return stats, nil
}

func (l *Loader) relative(path string) string {
	if rel, err := filepath.Rel(l.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// Discover returns the supported files under root in lexical order.
func Discover(root string, extensions map[string]struct{}) ([]string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("rag: corpus path is empty")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("rag: corpus path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("rag: corpus path %s is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if isSupportedExt(filepath.Ext(path), extensions) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rag: walk corpus: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func extractDocumentText(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDFText(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func extractPDFText(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isSupportedExt(ext string, allowed map[string]struct{}) bool {
	normalized := strings.TrimSpace(strings.ToLower(ext))
	if normalized == "" {
		return false
	}
	if !strings.HasPrefix(normalized, ".") {
		normalized = "." + normalized
	}
	_, ok := allowed[normalized]
	return ok
}

// normalizeExtensions lower-cases extensions and adds the leading dot.
func normalizeExtensions(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, ext := range list {
		trimmed := strings.TrimSpace(strings.ToLower(ext))
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, ".") {
			trimmed = "." + trimmed
		}
		set[trimmed] = struct{}{}
	}
	return set
}
