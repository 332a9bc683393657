// Package memory provides semantic long-term memory over a local SQLite
// database. Records carry an embedding when an embeddings endpoint is
// configured; recall degrades to keyword matching otherwise.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo

	"github.com/blackcat-ai/blackcat/internal/schema"
)

// Store persists memory records and their embeddings.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the memory database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			tag TEXT NOT NULL DEFAULT 'default',
			weight REAL NOT NULL DEFAULT 0.5,
			ts INTEGER NOT NULL,
			author TEXT,
			categories TEXT,
			content_hash TEXT NOT NULL,
			source TEXT,
			project TEXT,
			decision INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS vectors (
			id TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
			embedding BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_tag ON memories(tag)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init memory schema: %w", err)
		}
	}
	return nil
}

// Insert stores a new record, generating an id when empty. embedding may be
// nil.
func (s *Store) Insert(ctx context.Context, rec schema.MemoryRecord, embedding []float32) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Created == 0 {
		rec.Created = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories (id, content, tag, weight, ts, author, categories, content_hash, source, project, decision)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Content, rec.Tag, rec.Weight, rec.Created,
		rec.Author, "", contentHash(rec.Content), rec.Source, rec.Project, boolToInt(rec.Decision),
	)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}

	if len(embedding) > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vectors (id, embedding) VALUES (?, ?)`,
			rec.ID, encodeEmbedding(embedding),
		); err != nil {
			return "", fmt.Errorf("insert embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit insert: %w", err)
	}
	return rec.ID, nil
}

// FindByHash returns the record with the given content hash, or nil.
func (s *Store) FindByHash(ctx context.Context, hash string) (*schema.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, tag, weight, ts, author, source, project, decision
		 FROM memories WHERE content_hash = ? LIMIT 1`, hash)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return rec, nil
}

// BumpWeight raises a record's weight, capped at 1.0.
func (s *Store) BumpWeight(ctx context.Context, id string, delta float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET weight = MIN(1.0, weight + ?), ts = ? WHERE id = ?`,
		delta, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("bump weight: %w", err)
	}
	return nil
}

// All returns every record joined with its embedding (nil when absent).
// The corpus is small enough that recall scans it in memory.
func (s *Store) All(ctx context.Context) ([]schema.MemoryRecord, [][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.content, m.tag, m.weight, m.ts, m.author, m.source, m.project, m.decision, v.embedding
		 FROM memories m LEFT JOIN vectors v ON v.id = m.id`)
	if err != nil {
		return nil, nil, fmt.Errorf("scan memories: %w", err)
	}
	defer rows.Close()

	var recs []schema.MemoryRecord
	var embs [][]float32
	for rows.Next() {
		var rec schema.MemoryRecord
		var author, source, project sql.NullString
		var decision int
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Tag, &rec.Weight, &rec.Created,
			&author, &source, &project, &decision, &blob); err != nil {
			return nil, nil, fmt.Errorf("scan memory row: %w", err)
		}
		rec.Author = author.String
		rec.Source = source.String
		rec.Project = project.String
		rec.Decision = decision != 0
		recs = append(recs, rec)
		embs = append(embs, decodeEmbedding(blob))
	}
	return recs, embs, rows.Err()
}

// Delete removes a record (and its vector) by id. Reports whether a row
// existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete vector: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// ---------------------------------------------------------------------------
// Helpers

func scanRecord(row *sql.Row) (*schema.MemoryRecord, error) {
	var rec schema.MemoryRecord
	var author, source, project sql.NullString
	var decision int
	err := row.Scan(&rec.ID, &rec.Content, &rec.Tag, &rec.Weight, &rec.Created,
		&author, &source, &project, &decision)
	if err != nil {
		return nil, err
	}
	rec.Author = author.String
	rec.Source = source.String
	rec.Project = project.String
	rec.Decision = decision != 0
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeEmbedding packs a float32 slice as little-endian IEEE 754 bytes.
func encodeEmbedding(embedding []float32) []byte {
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

// cosineSimilarity of two vectors; zero when dimensions differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
