package vectordb

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"Pivot/internal/embedding"
)

// DuckDB keeps chunks and their vectors in an embedded DuckDB database.
// An empty path opens an in-memory database.
type DuckDB struct {
	db       *sql.DB
	provider embedding.Provider
	logger   *zap.Logger

	mu     sync.Mutex
	docs   atomic.Int64
	frozen atomic.Bool
}

// NewDuckDB opens the database at path and creates the chunk table.
func NewDuckDB(path string, provider embedding.Provider, logger *zap.Logger) (*DuckDB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("vectordb: open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectordb: connect duckdb: %w", err)
	}

	d := &DuckDB{db: db, provider: provider, logger: logger}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("duckdb index opened", zap.String("path", path))
	return d, nil
}

func (d *DuckDB) initSchema() error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS chunk_id_seq START 1`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id BIGINT PRIMARY KEY,
			chunk_id VARCHAR NOT NULL,
			source VARCHAR NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("vectordb: init schema: %w", err)
		}
	}
	return nil
}

func (d *DuckDB) AddDocument(ctx context.Context, text string, opts ChunkOptions) (int, error) {
	if d.frozen.Load() {
		return 0, ErrFrozen
	}
	doc := int(d.docs.Add(1))
	chunks, err := prepare(ctx, d.provider, doc, text, opts)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frozen.Load() {
		return 0, ErrFrozen
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("vectordb: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, chunk_id, source, content, embedding) VALUES (nextval('chunk_id_seq'), ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("vectordb: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.id, c.source, c.text, float32SliceToBytes(c.vector)); err != nil {
			return 0, fmt.Errorf("vectordb: insert chunk %s: %w", c.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("vectordb: commit: %w", err)
	}
	return len(chunks), nil
}

// Search scans every stored vector and scores it in Go.
func (d *DuckDB) Search(ctx context.Context, query string, pageCount int, threshold float64) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || pageCount <= 0 {
		return nil, nil
	}
	qv, err := d.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `SELECT chunk_id, source, content, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("vectordb: query chunks: %w", err)
	}
	defer rows.Close()

	r := newRanker(pageCount, threshold)
	for rows.Next() {
		var (
			c    chunk
			blob []byte
		)
		if err := rows.Scan(&c.id, &c.source, &c.text, &blob); err != nil {
			return nil, fmt.Errorf("vectordb: scan chunk: %w", err)
		}
		c.vector = bytesToFloat32Slice(blob)
		r.offer(&c, embedding.Cosine(qv, c.vector))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectordb: iterate chunks: %w", err)
	}
	return r.results(), nil
}

func (d *DuckDB) Freeze() { d.frozen.Store(true) }

func (d *DuckDB) Len() int {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		d.logger.Warn("count chunks failed", zap.Error(err))
		return 0
	}
	return n
}

func (d *DuckDB) Close() error {
	return d.db.Close()
}

func float32SliceToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
