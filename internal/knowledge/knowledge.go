// Package knowledge persists cross-session insights: what past
// refinement sessions learned about producing strong lesson plans.
// The workflow seeds generation prompts with recent insights and
// records a new one when a session finishes.
package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Insight is one durable lesson extracted from a finished session.
type Insight struct {
	ID        string
	Subject   string
	GradeBand string

	// Summary is the one-paragraph takeaway, e.g. the recommendations a
	// session converged on.
	Summary string

	// FinalScore is the aggregate quality the session ended with.
	FinalScore float64

	// Rounds is how many refinement rounds the session ran.
	Rounds int

	CreatedAt time.Time
}

// Store is the persistence interface for insights.
type Store interface {
	// RecordInsight saves one insight. A zero ID is assigned.
	RecordInsight(ctx context.Context, ins Insight) error

	// RecentInsights returns up to limit insights, newest first.
	RecentInsights(ctx context.Context, limit int) ([]Insight, error)

	// Close releases the backing resources.
	Close() error
}

// MemoryStore is an in-process Store for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	insights []Insight
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// RecordInsight appends the insight.
func (m *MemoryStore) RecordInsight(_ context.Context, ins Insight) error {
	if ins.ID == "" {
		ins.ID = uuid.New().String()
	}
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights = append(m.insights, ins)
	return nil
}

// RecentInsights returns up to limit insights, newest first.
func (m *MemoryStore) RecentInsights(_ context.Context, limit int) ([]Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]Insight(nil), m.insights...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
