package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/quality"
)

// EventType indicates the phase transition an event reports.
type EventType string

const (
	// EventRoundStart signals the start of a round (round 0 is initial
	// generation).
	EventRoundStart EventType = "round_start"

	// EventGenerationComplete signals one model's generation finished,
	// successfully or not.
	EventGenerationComplete EventType = "generation_complete"

	// EventAnalysisComplete signals cross-analysis finished for a round.
	EventAnalysisComplete EventType = "analysis_complete"

	// EventQualityComputed signals the round's quality snapshot.
	EventQualityComputed EventType = "quality_computed"

	// EventImprovementComplete signals the improvement phase finished.
	EventImprovementComplete EventType = "improvement_complete"

	// EventWorkflowComplete is the terminal event. It always carries a
	// status and, on failure, a human-readable reason.
	EventWorkflowComplete EventType = "workflow_complete"
)

// Event is one progress notification. Delivery is best-effort: a slow
// or failed subscriber never blocks or fails the workflow.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	WorkflowID uuid.UUID

	// Round is the round the event belongs to.
	Round int

	// ModelID is set on per-model events.
	ModelID string

	// Score and Threshold are set on quality events.
	Score     float64
	Threshold float64

	// Message is a human-readable description.
	Message string

	// Result is set on the terminal event only.
	Result *Result
}

// Result is the terminal outcome of a workflow. Partial results are
// still populated when failure occurs after at least one successful
// round, so a consumer can keep the best-so-far plan.
type Result struct {
	Status          Status
	Reason          string
	Winner          *plan.ModelPlan
	FinalScore      float64
	RoundsCompleted int
	Report          quality.Report
}

// Broadcaster fans events out to subscribers without ever blocking the
// publisher. Each subscriber gets a bounded buffered channel; events a
// full subscriber cannot absorb are dropped. A subscriber attaching
// mid-run first receives every event published so far, in order, so the
// stream is complete regardless of when the caller subscribes.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	past   []Event
	nextID int
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size and
// returns its channel plus a cancel function. The channel is closed on
// cancel or when the broadcaster closes.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Capacity covers the replayed backlog plus the requested headroom.
	ch := make(chan Event, len(b.past)+buffer)
	for _, ev := range b.past {
		ch <- ev
	}
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber that has buffer space.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.past = append(b.past, ev)

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up. Best-effort contract:
			// drop rather than stall the workflow.
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
