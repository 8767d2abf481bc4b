package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// ErrJobNotFound reports a poll, cancel, or result request for an unknown
// job id.
var ErrJobNotFound = eris.New("analysis: job not found")

// Runner owns background analysis jobs. One job is active at a time:
// starting a new job cancels the running one and waits a short grace period
// so the old scan can notice at its next page boundary. The grace is
// advisory; a slow page fetch can outlive it, which is an accepted race.
type Runner struct {
	engine *Engine
	grace  time.Duration

	mu       sync.Mutex
	jobs     map[string]*job
	activeID string
}

type job struct {
	mu     sync.Mutex
	info   model.JobInfo
	result any
	cancel context.CancelFunc
	done   chan struct{}
}

func (j *job) snapshot() model.JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.info
}

// NewRunner builds a Runner over the engine. grace <= 0 defaults to 500ms.
func NewRunner(e *Engine, grace time.Duration) *Runner {
	if grace <= 0 {
		grace = 500 * time.Millisecond
	}
	return &Runner{
		engine: e,
		grace:  grace,
		jobs:   make(map[string]*job),
	}
}

// Start launches an analysis in the background and returns its job id.
// A still-running previous job is canceled first. The slot check loops
// because a concurrent Start may install a fresh job during the grace
// wait; each active job gets canceled and waited on at most once before
// takeover.
func (r *Runner) Start(ctx context.Context, typ model.AnalysisType, params model.AnalysisParams) (string, error) {
	var waited *job
	r.mu.Lock()
	for {
		active := r.jobs[r.activeID]
		if active == nil || active == waited || active.snapshot().Status.Terminal() {
			break
		}
		activeID := r.activeID
		active.cancel()
		r.mu.Unlock()

		zap.L().Info("analysis: canceling active job before starting a new one",
			zap.String("job_id", activeID))
		select {
		case <-active.done:
		case <-time.After(r.grace):
		}
		waited = active
		r.mu.Lock()
	}
	defer r.mu.Unlock()

	id := uuid.New().String()
	// The job outlives the request that started it; detach from the
	// caller's deadline but keep its values.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		info: model.JobInfo{
			ID:        id,
			Type:      typ,
			Params:    params,
			Status:    model.JobStatusRunning,
			StartTime: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.jobs[id] = j
	r.activeID = id

	go r.run(jobCtx, j, typ, params)
	return id, nil
}

func (r *Runner) run(ctx context.Context, j *job, typ model.AnalysisType, params model.AnalysisParams) {
	defer close(j.done)

	result, err := r.engine.Run(ctx, typ, params, func(p float64) {
		j.mu.Lock()
		j.info.Progress = p
		j.mu.Unlock()
	})

	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.info.EndTime = &now
	switch {
	case ctx.Err() != nil:
		j.info.Status = model.JobStatusCanceled
	case err != nil:
		j.info.Status = model.JobStatusError
		j.info.Error = err.Error()
		zap.L().Error("analysis: job failed",
			zap.String("job_id", j.info.ID), zap.String("type", string(typ)), zap.Error(err))
	default:
		j.info.Status = model.JobStatusCompleted
		j.info.Progress = 1
		j.result = result
	}
}

func (r *Runner) lookup(id string) (*job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	if j == nil {
		return nil, eris.Wrapf(ErrJobNotFound, "id %s", id)
	}
	return j, nil
}

// Poll returns the current snapshot of a job.
func (r *Runner) Poll(id string) (model.JobInfo, error) {
	j, err := r.lookup(id)
	if err != nil {
		return model.JobInfo{}, err
	}
	return j.snapshot(), nil
}

// Cancel flips a job's cancel flag. Cancellation lands at the scan's next
// page boundary, so the job may report running for a short while after.
func (r *Runner) Cancel(id string) error {
	j, err := r.lookup(id)
	if err != nil {
		return err
	}
	j.cancel()
	return nil
}

// Result returns the job's result once completed. Before completion it
// returns the progress snapshot with a nil result.
func (r *Runner) Result(id string) (any, model.JobInfo, error) {
	j, err := r.lookup(id)
	if err != nil {
		return nil, model.JobInfo{}, err
	}
	info := j.snapshot()
	if info.Status != model.JobStatusCompleted {
		return nil, info, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, info, nil
}

// Current returns the most recently started job, if any.
func (r *Runner) Current() (model.JobInfo, bool) {
	r.mu.Lock()
	j := r.jobs[r.activeID]
	r.mu.Unlock()
	if j == nil {
		return model.JobInfo{}, false
	}
	return j.snapshot(), true
}

// Wait blocks until the job reaches a terminal state or the context ends.
// Callers wanting a timeout race this against their own deadline.
func (r *Runner) Wait(ctx context.Context, id string) (model.JobInfo, error) {
	j, err := r.lookup(id)
	if err != nil {
		return model.JobInfo{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}
