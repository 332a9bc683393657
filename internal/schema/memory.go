package schema

import "context"

// MemoryRecord is one entry in semantic vector memory.
type MemoryRecord struct {
	ID       string
	Content  string
	Tag      string  // "core", "crucial", or "default"
	Weight   float64 // [0,1]
	Score    float64 // recall only: decayed similarity score
	Author   string
	Source   string
	Project  string
	Decision bool
	Created  int64 // epoch seconds
}

// MemoryService is semantic memory as the memory tool and the daily
// summary see it. Implemented by memory.Memory; defined here to avoid
// an import cycle.
type MemoryService interface {
	Remember(ctx context.Context, content, tag, author, source string) (string, error)
	Recall(ctx context.Context, query string, limit int) ([]MemoryRecord, error)
	Forget(ctx context.Context, id string) (bool, error)
}
