package knowledge

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Index stores article vectors.
type Index interface {
	Upsert(ctx context.Context, articleID, model string, vec []float32) error
	Delete(ctx context.Context, articleID string) error
	Vectors(ctx context.Context, model string) (map[string][]float32, error)
	Close() error
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS article_vectors (
	article_id TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	dims       INTEGER NOT NULL,
	embedding  BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_article_vectors_model ON article_vectors(model);
`

// SQLiteIndex keeps vectors in a local SQLite file.
type SQLiteIndex struct {
	db *sqlx.DB
	mu sync.Mutex
}

// OpenSQLiteIndex opens (creating if needed) the index at path.
func OpenSQLiteIndex(path string) (*SQLiteIndex, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(indexSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (x *SQLiteIndex) Upsert(ctx context.Context, articleID, model string, vec []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO article_vectors (article_id, model, dims, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(article_id) DO UPDATE SET
			model = excluded.model,
			dims = excluded.dims,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`, articleID, model, len(vec), encodeVector(vec), time.Now().UTC())
	return err
}

func (x *SQLiteIndex) Delete(ctx context.Context, articleID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, err := x.db.ExecContext(ctx, `DELETE FROM article_vectors WHERE article_id = ?`, articleID)
	return err
}

type vectorRow struct {
	ArticleID string `db:"article_id"`
	Embedding []byte `db:"embedding"`
}

// Vectors returns the vectors computed by model, keyed by article.
func (x *SQLiteIndex) Vectors(ctx context.Context, model string) (map[string][]float32, error) {
	var rows []vectorRow
	if err := x.db.SelectContext(ctx, &rows,
		`SELECT article_id, embedding FROM article_vectors WHERE model = ?`, model); err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(rows))
	for _, r := range rows {
		out[r.ArticleID] = decodeVector(r.Embedding)
	}
	return out, nil
}

// Count returns the number of indexed articles.
func (x *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM article_vectors`)
	return n, err
}

func (x *SQLiteIndex) Close() error { return x.db.Close() }

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
