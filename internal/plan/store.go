package plan

import (
	"fmt"
	"sort"
	"sync"
)

// Store keeps the append-only per-model plan history for one session.
// Each model's history is indexable by version position; Commit never
// overwrites a prior version. Reads return copies so concurrent readers
// never observe a partially updated round.
type Store struct {
	mu      sync.RWMutex
	history map[string][]ModelPlan
	order   []string
}

// NewStore creates a store for the given configured model IDs. The
// configured set is fixed for the life of the session.
func NewStore(modelIDs []string) *Store {
	order := make([]string, len(modelIDs))
	copy(order, modelIDs)
	sort.Strings(order)

	history := make(map[string][]ModelPlan, len(order))
	for _, id := range order {
		history[id] = nil
	}
	return &Store{history: history, order: order}
}

// Models returns the configured model IDs in lexical order.
func (s *Store) Models() []string {
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// Commit appends a new plan version for its model.
func (s *Store) Commit(p ModelPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.history[p.ModelID]; !ok {
		return fmt.Errorf("commit plan: unknown model %q", p.ModelID)
	}
	s.history[p.ModelID] = append(s.history[p.ModelID], clonePlan(p))
	return nil
}

// Current returns the latest committed plan for a model.
func (s *Store) Current(modelID string) (ModelPlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.history[modelID]
	if len(versions) == 0 {
		return ModelPlan{}, false
	}
	return clonePlan(versions[len(versions)-1]), true
}

// CurrentAll returns the latest plan for every model that has one.
func (s *Store) CurrentAll() map[string]ModelPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ModelPlan, len(s.order))
	for id, versions := range s.history {
		if len(versions) > 0 {
			out[id] = clonePlan(versions[len(versions)-1])
		}
	}
	return out
}

// AtRound returns the latest plan version for a model that was produced
// at or before the given round. This is the committed view a round's
// analysis phase reads: never partial current-round output.
func (s *Store) AtRound(modelID string, round int) (ModelPlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found ModelPlan
	var ok bool
	for _, v := range s.history[modelID] {
		if v.Round > round {
			break
		}
		found, ok = v, true
	}
	if !ok {
		return ModelPlan{}, false
	}
	return clonePlan(found), true
}

// History returns all committed versions for a model, oldest first.
func (s *Store) History(modelID string) []ModelPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.history[modelID]
	out := make([]ModelPlan, len(versions))
	for i, v := range versions {
		out[i] = clonePlan(v)
	}
	return out
}

func clonePlan(p ModelPlan) ModelPlan {
	out := p
	if p.SubScores != nil {
		out.SubScores = make(map[Dimension]float64, len(p.SubScores))
		for k, v := range p.SubScores {
			out.SubScores[k] = v
		}
	}
	if p.Fields.Objectives != nil {
		out.Fields.Objectives = append([]string(nil), p.Fields.Objectives...)
	}
	if p.Fields.Activities != nil {
		out.Fields.Activities = append([]Activity(nil), p.Fields.Activities...)
	}
	if p.Fields.Assessment != nil {
		out.Fields.Assessment = make(map[string]string, len(p.Fields.Assessment))
		for k, v := range p.Fields.Assessment {
			out.Fields.Assessment[k] = v
		}
	}
	return out
}
