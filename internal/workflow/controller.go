// Package workflow runs the multi-model refinement loop: initial
// generation, then rounds of cross-analysis, quality scoring, and
// improvement until the quality threshold, plateau convergence, or the
// round limit stops it.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/planforge/planforge/internal/analysis"
	"github.com/planforge/planforge/internal/improve"
	"github.com/planforge/planforge/internal/knowledge"
	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/quality"
)

// Generator is the model-call surface the workflow depends on. The
// gateway satisfies it; tests substitute stubs.
type Generator interface {
	Generate(ctx context.Context, modelID, prompt string) (string, error)
}

const (
	defaultMaxParallel = 4
	insightSeedLimit   = 3
)

// Engine creates and drives workflows over a fixed model roster.
type Engine struct {
	gen         Generator
	models      []string
	analyzer    *analysis.Step
	improver    *improve.Step
	scorer      *quality.Aggregator
	insights    knowledge.Store
	maxParallel int
	log         *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithInsightStore enables cross-session insight seeding and recording.
func WithInsightStore(s knowledge.Store) EngineOption {
	return func(e *Engine) { e.insights = s }
}

// WithMaxParallel caps concurrent model calls per phase.
func WithMaxParallel(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an engine over the given generator and models.
func NewEngine(gen Generator, models []string, opts ...EngineOption) (*Engine, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("at least one model is required")
	}

	e := &Engine{
		gen:         gen,
		models:      append([]string(nil), models...),
		analyzer:    analysis.NewStep(gen),
		improver:    improve.NewStep(gen),
		scorer:      quality.NewAggregator(),
		maxParallel: defaultMaxParallel,
		log:         slog.Default(),
	}
	sort.Strings(e.models)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Workflow is a handle on one running (or finished) refinement session.
type Workflow struct {
	id    uuid.UUID
	input SessionInput

	store  *plan.Store
	hist   *quality.History
	events *Broadcaster

	cancelRun context.CancelFunc
	cancelled atomic.Bool

	st     stateGuard
	done   chan struct{}
	result *Result
}

// StartWorkflow validates the input and launches the refinement loop in
// the background, returning a handle immediately. Validation failures
// return ErrInvalidInput and create nothing.
func (e *Engine) StartWorkflow(ctx context.Context, input SessionInput) (*Workflow, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w := &Workflow{
		id:        uuid.New(),
		input:     input,
		store:     plan.NewStore(e.models),
		hist:      quality.NewHistory(),
		events:    NewBroadcaster(),
		cancelRun: cancel,
		done:      make(chan struct{}),
	}
	w.st.state = State{
		Status:           StatusRunning,
		MaxRounds:        input.MaxRounds,
		QualityThreshold: input.threshold(),
	}

	e.log.Info("workflow started",
		"workflow_id", w.id,
		"subject", input.Subject,
		"grade_band", input.GradeBand,
		"models", e.models,
		"max_rounds", input.MaxRounds,
		"threshold", input.threshold())

	go e.run(runCtx, w)
	return w, nil
}

// ID returns the workflow identifier.
func (w *Workflow) ID() uuid.UUID { return w.id }

// Status returns a point-in-time deep copy of the workflow state. It is
// safe to call at any time, including after completion.
func (w *Workflow) Status() State {
	st := w.st.snapshot()
	st.Plans = w.store.CurrentAll()
	st.History = w.hist.All()
	return st
}

// Cancel asks the workflow to stop. In-flight model calls are
// interrupted and the current phase's partial results are discarded.
// Returns ErrAlreadyTerminal if the workflow already finished.
func (w *Workflow) Cancel() error {
	if w.st.terminal() {
		return ErrAlreadyTerminal
	}
	w.cancelled.Store(true)
	w.cancelRun()
	return nil
}

// Events subscribes to progress events. The returned cancel function
// must be called when the subscriber is done; the channel also closes
// after the terminal event once the workflow finishes.
func (w *Workflow) Events(buffer int) (<-chan Event, func()) {
	return w.events.Subscribe(buffer)
}

// Done is closed when the workflow reaches a terminal state.
func (w *Workflow) Done() <-chan struct{} { return w.done }

// Result returns the terminal result, or false while still running.
func (w *Workflow) Result() (*Result, bool) {
	select {
	case <-w.done:
		return w.result, true
	default:
		return nil, false
	}
}

func (w *Workflow) publish(ev Event) {
	ev.WorkflowID = w.id
	w.events.Publish(ev)
}

func (w *Workflow) interrupted(ctx context.Context) bool {
	return w.cancelled.Load() || ctx.Err() != nil
}

// run drives the whole session. It is the only goroutine that mutates
// workflow state; phase fan-out goroutines return results to it.
func (e *Engine) run(ctx context.Context, w *Workflow) {
	defer close(w.done)
	defer w.events.Close()
	defer w.cancelRun()

	if err := e.generateInitial(ctx, w); err != nil {
		e.fail(w, err.Error())
		return
	}
	if w.interrupted(ctx) {
		e.fail(w, "cancelled")
		return
	}

	for round := 1; ; round++ {
		w.st.setRound(round)
		w.publish(Event{Type: EventRoundStart, Round: round,
			Message: fmt.Sprintf("round %d started", round)})

		critiques := e.analyzer.Analyze(ctx, w.store.CurrentAll())
		if w.interrupted(ctx) {
			e.fail(w, "cancelled")
			return
		}
		w.publish(Event{Type: EventAnalysisComplete, Round: round,
			Message: fmt.Sprintf("cross-analysis finished with %d critiqued plans", len(critiques))})

		flat := flattenCritiques(critiques)
		snap := e.scorer.Score(round, e.models, flat)
		w.hist.Append(snap)
		threshold := w.input.threshold()
		w.publish(Event{Type: EventQualityComputed, Round: round,
			Score: snap.Aggregate, Threshold: threshold,
			Message: fmt.Sprintf("aggregate quality %.3f", snap.Aggregate)})

		e.log.Info("round scored",
			"workflow_id", w.id,
			"round", round,
			"aggregate", snap.Aggregate,
			"threshold", threshold)

		switch {
		case snap.Aggregate >= threshold:
			e.finish(w, StatusConverged, "quality threshold met", snap, flat)
			return
		case w.hist.Converged():
			e.finish(w, StatusConverged, "early convergence", snap, flat)
			return
		case round >= w.input.MaxRounds:
			e.finish(w, StatusMaxRounds, "max rounds reached", snap, flat)
			return
		}

		improved := e.improveAll(ctx, w, round, critiques)
		if w.interrupted(ctx) {
			e.fail(w, "cancelled")
			return
		}
		for _, p := range improved {
			if err := w.store.Commit(p); err != nil {
				e.log.Warn("improved plan rejected", "model", p.ModelID, "error", err)
			}
		}
		w.publish(Event{Type: EventImprovementComplete, Round: round,
			Message: fmt.Sprintf("%d plans improved", len(improved))})
	}
}

// generateInitial fans out round-0 generation across all models.
// Individual failures are absorbed as failed plans; only a full wipeout
// aborts the session.
func (e *Engine) generateInitial(ctx context.Context, w *Workflow) error {
	w.publish(Event{Type: EventRoundStart, Round: 0, Message: "initial generation started"})

	prompt := buildGenerationPrompt(w.input, e.recentInsights(ctx))

	results := make([]plan.ModelPlan, len(e.models))
	g := new(errgroup.Group)
	g.SetLimit(e.maxParallel)

	for i, modelID := range e.models {
		g.Go(func() error {
			raw, err := e.gen.Generate(ctx, modelID, prompt)
			if err != nil {
				e.log.Warn("initial generation failed", "model", modelID, "error", err)
				results[i] = plan.ModelPlan{
					ModelID:       modelID,
					Failed:        true,
					FailureReason: err.Error(),
				}
				return nil
			}
			fields, perr := plan.ParseFields(raw)
			if perr != nil {
				e.log.Warn("plan output not structured, keeping raw text",
					"model", modelID, "error", perr)
			}
			results[i] = plan.ModelPlan{ModelID: modelID, Fields: fields, RawText: raw}
			return nil
		})
	}
	_ = g.Wait()

	if w.interrupted(ctx) {
		return nil
	}

	failed := 0
	for _, p := range results {
		if err := w.store.Commit(p); err != nil {
			return fmt.Errorf("commit plan for %s: %w", p.ModelID, err)
		}
		if p.Failed {
			failed++
		}
		w.publish(Event{Type: EventGenerationComplete, Round: 0, ModelID: p.ModelID,
			Message: generationMessage(p)})
	}
	if failed == len(results) {
		return ErrAllModelsFailed
	}
	return nil
}

func generationMessage(p plan.ModelPlan) string {
	if p.Failed {
		return "generation failed: " + p.FailureReason
	}
	return "plan generated"
}

// improveAll runs the improvement step for every model that received
// usable feedback. Models with no feedback, and models whose
// improvement call fails, carry their current plan forward unchanged.
func (e *Engine) improveAll(ctx context.Context, w *Workflow, round int, critiques map[string][]plan.CritiqueReport) []plan.ModelPlan {
	current := w.store.CurrentAll()

	type slot struct {
		p  plan.ModelPlan
		ok bool
	}
	results := make([]slot, len(e.models))

	g := new(errgroup.Group)
	g.SetLimit(e.maxParallel)
	for i, modelID := range e.models {
		cur, exists := current[modelID]
		if !exists || !cur.Usable() {
			continue
		}
		feedback := critiques[modelID]
		if !hasFeedback(feedback) {
			e.log.Debug("no feedback, carrying plan forward", "model", modelID, "round", round)
			continue
		}
		g.Go(func() error {
			next, err := e.improver.Improve(ctx, round, cur, feedback)
			if err != nil {
				e.log.Warn("improvement failed, carrying plan forward",
					"model", modelID, "round", round, "error", err)
				return nil
			}
			results[i] = slot{p: next, ok: true}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]plan.ModelPlan, 0, len(results))
	for _, s := range results {
		if s.ok {
			out = append(out, s.p)
		}
	}
	return out
}

func hasFeedback(critiques []plan.CritiqueReport) bool {
	for _, c := range critiques {
		if !c.Empty() {
			return true
		}
	}
	return false
}

// finish records a successful terminal state and emits the final event.
func (e *Engine) finish(w *Workflow, status Status, reason string, snap quality.Snapshot, flat []plan.CritiqueReport) {
	report := quality.BuildReport(snap, flat)
	res := &Result{
		Status:          status,
		Reason:          reason,
		FinalScore:      snap.Aggregate,
		RoundsCompleted: snap.Round,
		Report:          report,
	}
	if winner, ok := pickWinner(w.store.CurrentAll(), snap); ok {
		res.Winner = &winner
	}

	w.result = res
	w.st.setTerminal(status, reason)
	w.publish(Event{Type: EventWorkflowComplete, Round: snap.Round,
		Score: snap.Aggregate, Message: reason, Result: res})

	e.log.Info("workflow finished",
		"workflow_id", w.id,
		"status", status,
		"reason", reason,
		"rounds", snap.Round,
		"final_score", snap.Aggregate)

	e.recordInsight(w, res)
}

// fail records a failed terminal state, keeping best-so-far results
// when at least one round completed.
func (e *Engine) fail(w *Workflow, reason string) {
	res := &Result{Status: StatusFailed, Reason: reason}
	if snap, ok := w.hist.Last(); ok {
		res.FinalScore = snap.Aggregate
		res.RoundsCompleted = snap.Round
		res.Report = quality.BuildReport(snap, nil)
		if winner, okW := pickWinner(w.store.CurrentAll(), snap); okW {
			res.Winner = &winner
		}
	}

	w.result = res
	w.st.setTerminal(StatusFailed, reason)
	w.publish(Event{Type: EventWorkflowComplete, Message: reason, Result: res})

	e.log.Warn("workflow failed", "workflow_id", w.id, "reason", reason)
}

// pickWinner selects the usable plan with the highest received score in
// the snapshot. Ties break toward the lexically smallest model ID so the
// outcome is deterministic.
func pickWinner(plans map[string]plan.ModelPlan, snap quality.Snapshot) (plan.ModelPlan, bool) {
	ids := make([]string, 0, len(plans))
	for id := range plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := ""
	bestScore := -1.0
	for _, id := range ids {
		if !plans[id].Usable() {
			continue
		}
		if score := snap.PerModel[id]; score > bestScore {
			best, bestScore = id, score
		}
	}
	if best == "" {
		return plan.ModelPlan{}, false
	}

	winner := plans[best]
	if dims := snap.PerModelDimensions[best]; dims != nil {
		winner.SubScores = make(map[plan.Dimension]float64, len(dims))
		for d, v := range dims {
			winner.SubScores[d] = v
		}
	}
	return winner, true
}

func flattenCritiques(byTarget map[string][]plan.CritiqueReport) []plan.CritiqueReport {
	targets := make([]string, 0, len(byTarget))
	for t := range byTarget {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	var out []plan.CritiqueReport
	for _, t := range targets {
		out = append(out, byTarget[t]...)
	}
	return out
}

func (e *Engine) recentInsights(ctx context.Context) []knowledge.Insight {
	if e.insights == nil {
		return nil
	}
	ins, err := e.insights.RecentInsights(ctx, insightSeedLimit)
	if err != nil {
		e.log.Warn("insight lookup failed", "error", err)
		return nil
	}
	return ins
}

func (e *Engine) recordInsight(w *Workflow, res *Result) {
	if e.insights == nil {
		return
	}

	summary := strings.Join(res.Report.Recommendations, " ")
	if summary == "" {
		summary = fmt.Sprintf("session finished at quality %.2f after %d rounds",
			res.FinalScore, res.RoundsCompleted)
	}
	err := e.insights.RecordInsight(context.Background(), knowledge.Insight{
		Subject:    w.input.Subject,
		GradeBand:  w.input.GradeBand,
		Summary:    summary,
		FinalScore: res.FinalScore,
		Rounds:     res.RoundsCompleted,
	})
	if err != nil {
		e.log.Warn("insight record failed", "workflow_id", w.id, "error", err)
	}
}
