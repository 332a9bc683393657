package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blackcat-ai/blackcat/internal/schema"
)

// Decay per day by tag: core facts never fade, crucial slowly, default fast.
var decayRates = map[string]float64{
	"core":    0,
	"crucial": 0.01,
	"default": 0.05,
}

const (
	defaultWeight = 0.5
	dedupBump     = 0.1
	dedupCooldown = 10 * time.Second
)

// Memory implements schema.MemoryService over the SQLite store with an
// optional embeddings endpoint.
type Memory struct {
	store    *Store
	embedder Embedder

	mu       sync.Mutex
	lastBump map[string]time.Time // record id → last dedup bump
}

// New wires a Memory. embedder may be nil (keyword recall only).
func New(store *Store, embedder Embedder) *Memory {
	return &Memory{
		store:    store,
		embedder: embedder,
		lastBump: make(map[string]time.Time),
	}
}

// Remember stores content, deduplicating on the normalized content hash. A
// duplicate bumps the existing record's weight instead of inserting, at most
// once per cooldown window.
func (m *Memory) Remember(ctx context.Context, content, tag, author, source string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("memory content must not be empty")
	}
	if _, ok := decayRates[tag]; !ok {
		tag = "default"
	}

	if existing, err := m.store.FindByHash(ctx, contentHash(content)); err != nil {
		return "", err
	} else if existing != nil {
		m.mu.Lock()
		last := m.lastBump[existing.ID]
		recent := time.Since(last) < dedupCooldown
		if !recent {
			m.lastBump[existing.ID] = time.Now()
		}
		m.mu.Unlock()

		if !recent {
			if err := m.store.BumpWeight(ctx, existing.ID, dedupBump); err != nil {
				return "", err
			}
		}
		return existing.ID, nil
	}

	var embedding []float32
	if m.embedder != nil {
		var err error
		embedding, err = m.embedder.Embed(ctx, content)
		if err != nil {
			slog.Warn("embedding failed, storing without vector", "err", err)
			embedding = nil
		}
	}

	return m.store.Insert(ctx, schema.MemoryRecord{
		Content: content,
		Tag:     tag,
		Weight:  defaultWeight,
		Author:  author,
		Source:  source,
	}, embedding)
}

// Recall returns the best-matching records for a query, scored by cosine
// similarity (or keyword overlap without embeddings), weighted, and decayed
// by age according to the record's tag.
func (m *Memory) Recall(ctx context.Context, query string, limit int) ([]schema.MemoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}

	recs, embs, err := m.store.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}

	var queryVec []float32
	if m.embedder != nil {
		queryVec, err = m.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("query embedding failed, falling back to keywords", "err", err)
			queryVec = nil
		}
	}

	now := time.Now().Unix()
	var scored []schema.MemoryRecord
	for i, rec := range recs {
		var sim float64
		if queryVec != nil && embs[i] != nil {
			sim = cosineSimilarity(queryVec, embs[i])
		} else {
			sim = keywordSimilarity(query, rec.Content)
		}
		if sim <= 0 {
			continue
		}
		rec.Score = sim * rec.Weight * ageDecay(rec.Tag, rec.Created, now)
		scored = append(scored, rec)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Forget deletes a record by id.
func (m *Memory) Forget(ctx context.Context, id string) (bool, error) {
	return m.store.Delete(ctx, id)
}

// Close releases the underlying store.
func (m *Memory) Close() error { return m.store.Close() }

// ---------------------------------------------------------------------------
// Scoring

// ageDecay is exp(-rate · ageDays) for the tag's decay rate.
func ageDecay(tag string, created, now int64) float64 {
	rate, ok := decayRates[tag]
	if !ok {
		rate = decayRates["default"]
	}
	if rate == 0 {
		return 1
	}
	ageDays := float64(now-created) / 86400
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-rate * ageDays)
}

// keywordSimilarity is the fraction of query terms present in the content.
func keywordSimilarity(query, content string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// contentHash normalizes (trim, lowercase) before hashing so trivial
// re-phrasings of whitespace and case dedup together.
func contentHash(content string) string {
	norm := strings.ToLower(strings.TrimSpace(content))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
