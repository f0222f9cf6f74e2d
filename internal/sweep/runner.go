// Package sweep drives decisions along the track when no machine is attached:
// it walks positions at a fixed step and asks for a decision at each one,
// paced by the current tamping speed.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/trackscan/internal/db"
	"github.com/banshee-data/trackscan/internal/monitoring"
	"github.com/banshee-data/trackscan/internal/tamping"
	"github.com/banshee-data/trackscan/internal/timeutil"
)

// ErrAlreadyRunning is returned by Start while a sweep is in progress.
var ErrAlreadyRunning = errors.New("sweep already in progress")

// Status represents the current state of a sweep run
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusStopped  Status = "stopped"
)

// Decider asks for and logs a decision at pt.
type Decider interface {
	Decide(ctx context.Context, pt float64) (*tamping.Result, error)
}

// Pacer supplies the wait between positions.
type Pacer interface {
	TampingInterval() time.Duration
}

// Request defines where a sweep starts and how far it goes.
type Request struct {
	Start float64 `json:"start"`
	Step  float64 `json:"step"`
	Limit int     `json:"limit,omitempty"` // positions to visit; 0 runs until stopped
}

func (req Request) Validate() error {
	if math.IsNaN(req.Start) || math.IsInf(req.Start, 0) {
		return fmt.Errorf("start must be a finite number")
	}
	if math.IsNaN(req.Step) || math.IsInf(req.Step, 0) || req.Step <= 0 {
		return fmt.Errorf("step must be a positive number, got %v", req.Step)
	}
	if req.Limit < 0 {
		return fmt.Errorf("limit must be non-negative, got %d", req.Limit)
	}
	return nil
}

// Position returns the i-th position of a sweep, rounded to one decimal.
func Position(start, step float64, i int) float64 {
	return math.Round((start+step*float64(i))*10) / 10
}

// State holds the current state and progress of a sweep
type State struct {
	Status       Status         `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Request      *Request       `json:"request,omitempty"`
	Decided      int            `json:"decided"`
	Failed       int            `json:"failed"`
	LastPt       *float64       `json:"last_pt,omitempty"`
	LastDecision db.PointStatus `json:"last_decision,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
}

// Runner walks positions one at a time. Only one sweep runs at once.
type Runner struct {
	decider Decider
	pacer   Pacer
	clock   timeutil.Clock

	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a new sweep runner. A nil clock uses the wall clock.
func NewRunner(decider Decider, pacer Pacer, clock timeutil.Clock) *Runner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Runner{
		decider: decider,
		pacer:   pacer,
		clock:   clock,
		state:   State{Status: StatusIdle},
	}
}

// GetState returns a copy of the current sweep state.
func (r *Runner) GetState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Start begins a sweep in the background. It returns once the sweep is
// running; cancelling ctx or calling Stop ends it.
func (r *Runner) Start(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	now := r.clock.Now()
	r.state = State{
		Status:    StatusRunning,
		StartedAt: &now,
		Request:   &req,
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	monitoring.Logf("sweep: starting at %.1f step %.2f limit %d", req.Start, req.Step, req.Limit)
	go func() {
		defer close(done)
		defer cancel()
		r.run(sweepCtx, req)
	}()
	return nil
}

// Stop cancels a running sweep
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Wait blocks until the current sweep, if any, has finished.
func (r *Runner) Wait() {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (r *Runner) run(ctx context.Context, req Request) {
	for i := 0; req.Limit == 0 || i < req.Limit; i++ {
		pt := Position(req.Start, req.Step, i)
		res, err := r.decider.Decide(ctx, pt)
		if ctx.Err() != nil {
			r.finish(StatusStopped)
			return
		}
		r.record(pt, res, err)

		if req.Limit != 0 && i+1 == req.Limit {
			break
		}

		timer := r.clock.NewTimer(r.pacer.TampingInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			r.finish(StatusStopped)
			return
		case <-timer.C():
		}
	}
	r.finish(StatusComplete)
}

// record notes one decision. Failures are logged and the sweep carries on.
func (r *Runner) record(pt float64, res *tamping.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.LastPt = &pt
	if err != nil {
		r.state.Failed++
		r.state.LastError = err.Error()
		monitoring.Logf("sweep: decision at %.1f failed: %v", pt, err)
		return
	}
	r.state.Decided++
	r.state.LastDecision = res.Decision
}

func (r *Runner) finish(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.state.Status = status
	r.state.CompletedAt = &now
	r.cancel = nil
	monitoring.Logf("sweep: %s after %d decisions (%d failed)", status, r.state.Decided, r.state.Failed)
}
