// Package registry holds the authoritative in-memory table of pipeline runs.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"go.uber.org/zap"

	"sitechat/internal/rag"
)

// Limits bound the parameters accepted by Create.
type Limits struct {
	MaxDepth int
	MaxPages int
}

// Registry maps run_id -> Run. Reads are safe from any goroutine; each run's
// mutable fields are written only by the executor that owns it, so the
// RWMutex only has to make individual updates atomic with respect to readers.
type Registry struct {
	mu     sync.RWMutex
	runs   map[string]*rag.Run
	store  rag.VectorStore
	idGen  rag.RunIDGenerator
	clock  rag.Clock
	limits Limits
	logger *zap.Logger
}

// New constructs a Registry. The vector store is used only to drop a run's
// collection on explicit deletion.
func New(store rag.VectorStore, idGen rag.RunIDGenerator, clock rag.Clock, limits Limits, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		runs:   make(map[string]*rag.Run),
		store:  store,
		idGen:  idGen,
		clock:  clock,
		limits: limits,
		logger: logger,
	}
}

// Create validates params, allocates a fresh run id, and inserts the initial
// Run in running status. It returns immediately; indexing happens elsewhere.
func (r *Registry) Create(params rag.RunParams) (rag.Run, error) {
	siteName, err := validateParams(params, r.limits)
	if err != nil {
		return rag.Run{}, err
	}

	id := r.idGen.NewRunID()
	run := &rag.Run{
		ID:         id,
		Status:     rag.StatusRunning,
		Params:     params,
		SiteName:   siteName,
		Collection: rag.CollectionName(id),
		Progress: rag.Progress{
			Step:        rag.StageInitialize.Name(),
			CurrentStep: rag.StageInitialize.Step(),
			TotalSteps:  rag.TotalSteps,
		},
		Logs:      []string{"Pipeline started"},
		StartTime: r.clock.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[id]; exists {
		// Generator collisions would break run isolation; fail loudly.
		return rag.Run{}, fmt.Errorf("run id %s already exists", id)
	}
	r.runs[id] = run
	r.logger.Info("run created",
		zap.String("run_id", id),
		zap.String("site_name", siteName),
		zap.String("start_url", params.StartURL),
	)
	return cloneRun(run), nil
}

// Get returns the run for id, or a not_found sentinel so polling callers can
// distinguish "never existed / deleted" from transient errors.
func (r *Registry) Get(id string) rag.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return rag.Run{
			ID:     id,
			Status: rag.StatusNotFound,
			Progress: rag.Progress{
				Step: "not_found",
			},
			Logs: []string{"Pipeline not found"},
		}
	}
	return cloneRun(run)
}

// AppendLog appends one line to the run's log. Logs only ever grow.
func (r *Registry) AppendLog(id, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return &rag.NotFoundError{RunID: id}
	}
	run.Logs = append(run.Logs, line)
	return nil
}

// AdvanceProgress moves the run to the given step. current_step is
// monotonically non-decreasing and never exceeds total_steps.
func (r *Registry) AdvanceProgress(id string, step int, name string) error {
	if step < 0 || step > rag.TotalSteps {
		return fmt.Errorf("step %d out of range [0,%d]", step, rag.TotalSteps)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return &rag.NotFoundError{RunID: id}
	}
	if step < run.Progress.CurrentStep {
		return fmt.Errorf("progress for run %s cannot move backwards (%d -> %d)",
			id, run.Progress.CurrentStep, step)
	}
	run.Progress.Step = name
	run.Progress.CurrentStep = step
	return nil
}

// SetStatus transitions the run's status. A run leaves running exactly once;
// the end time is stamped at that transition and terminal states are final.
func (r *Registry) SetStatus(id string, status rag.RunStatus) error {
	if status != rag.StatusCompleted && status != rag.StatusFailed {
		return fmt.Errorf("status %q is not a valid transition target", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return &rag.NotFoundError{RunID: id}
	}
	if run.Status.Terminal() {
		return &rag.ConflictError{RunID: id, Reason: fmt.Sprintf("already %s", run.Status)}
	}
	run.Status = status
	now := r.clock.Now()
	run.EndTime = &now
	return nil
}

// List returns all known run ids, most recent first.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids
}

// History returns run summaries, most recent first.
func (r *Registry) History() []rag.RunSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rag.RunSummary, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, rag.RunSummary{
			ID:        run.ID,
			Status:    run.Status,
			SiteName:  run.SiteName,
			StartURL:  run.Params.StartURL,
			StartTime: run.StartTime,
			EndTime:   run.EndTime,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Delete removes the run record and drops its vector collection. Deleting a
// running run is rejected; deleting an unknown (or already deleted) id is a
// no-op so repeated deletes converge on the same not_found outcome.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	run, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if run.Status == rag.StatusRunning {
		r.mu.Unlock()
		return &rag.ConflictError{RunID: id, Reason: "cannot delete a running pipeline"}
	}
	collection := run.Collection
	delete(r.runs, id)
	r.mu.Unlock()

	if err := r.store.DropCollection(ctx, collection); err != nil {
		// The registry entry is already gone; the orphaned collection is
		// logged so an operator can reap it.
		r.logger.Warn("drop collection failed",
			zap.String("run_id", id),
			zap.String("collection", collection),
			zap.Error(err),
		)
		return fmt.Errorf("drop collection %s: %w", collection, err)
	}
	r.logger.Info("run deleted", zap.String("run_id", id))
	return nil
}

func validateParams(params rag.RunParams, limits Limits) (string, error) {
	u, err := url.Parse(params.StartURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", &rag.ValidationError{Field: "start_url", Reason: "must be a well-formed absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &rag.ValidationError{Field: "start_url", Reason: "scheme must be http or https"}
	}
	if params.MaxDepth < 0 || params.MaxDepth > limits.MaxDepth {
		return "", &rag.ValidationError{
			Field:  "max_depth",
			Reason: fmt.Sprintf("must be between 0 and %d", limits.MaxDepth),
		}
	}
	if params.MaxPages < 1 || params.MaxPages > limits.MaxPages {
		return "", &rag.ValidationError{
			Field:  "max_pages",
			Reason: fmt.Sprintf("must be between 1 and %d", limits.MaxPages),
		}
	}
	return u.Host, nil
}

func cloneRun(run *rag.Run) rag.Run {
	cp := *run
	cp.Logs = make([]string, len(run.Logs))
	copy(cp.Logs, run.Logs)
	if run.EndTime != nil {
		t := *run.EndTime
		cp.EndTime = &t
	}
	return cp
}
