// Package worker runs background jobs outside the request path. Each job
// runs in its own goroutine; failures and panics are contained at the pool
// boundary and reported to the job's completion callback.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yangwenmai/draftflow/internal/model"
)

var (
	// ErrJobInFlight is returned when a job with the same key is still running.
	ErrJobInFlight = fmt.Errorf("job already in flight: %w", model.ErrConflict)
	// ErrShuttingDown is returned by Submit after Shutdown was called.
	ErrShuttingDown = errors.New("worker pool is shutting down")
)

// Job is one unit of background work.
type Job struct {
	// Key identifies what the job works on. Only one job per key runs at a time.
	Key  string
	Kind string
	Run  func(ctx context.Context) error
	// OnDone receives the job's error, nil on success. It runs on the job's
	// goroutine after Run returns or panics.
	OnDone func(err error)
}

// Ticket acknowledges a submitted job.
type Ticket struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Kind        string    `json:"kind"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Panicked  int `json:"panicked"`
}

// PanicError wraps a value recovered from a panicking job.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

// Pool dispatches jobs to goroutines.
type Pool struct {
	mu       sync.Mutex
	inflight map[string]Ticket
	closed   bool
	stats    Stats
	wg       sync.WaitGroup

	sem     chan struct{}
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxConcurrent bounds how many jobs execute at once. Extra jobs are
// accepted and wait for a slot. Zero means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// WithJobTimeout limits how long a single job may run.
func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) { p.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a Pool.
func New(opts ...Option) *Pool {
	p := &Pool{inflight: make(map[string]Ticket), logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit starts job in the background and returns at once.
func (p *Pool) Submit(job Job) (Ticket, error) {
	if job.Run == nil {
		return Ticket{}, errors.New("job has no Run func")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Ticket{}, ErrShuttingDown
	}
	if cur, ok := p.inflight[job.Key]; ok {
		return Ticket{}, fmt.Errorf("%w: %s %s (ticket %s)", ErrJobInFlight, cur.Kind, job.Key, cur.ID)
	}

	t := Ticket{ID: newTicketID(), Key: job.Key, Kind: job.Kind, SubmittedAt: time.Now().UTC()}
	p.inflight[job.Key] = t
	p.stats.Active++
	p.wg.Add(1)
	go p.run(t, job)

	p.logger.Info("job submitted", "job", t.Kind, "key", t.Key, "ticket", t.ID)
	return t, nil
}

func (p *Pool) run(t Ticket, job Job) {
	defer p.wg.Done()
	if p.sem != nil {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
	}

	start := time.Now()
	err := p.execute(job)

	p.mu.Lock()
	delete(p.inflight, t.Key)
	p.stats.Active--
	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		p.stats.Panicked++
	case err != nil:
		p.stats.Failed++
	default:
		p.stats.Completed++
	}
	p.mu.Unlock()

	if pe != nil {
		p.logger.Error("job panicked", "job", t.Kind, "key", t.Key, "error", err, "stack", string(pe.Stack))
	} else if err != nil {
		p.logger.Error("job failed", "job", t.Kind, "key", t.Key, "error", err, "elapsed", time.Since(start).String())
	} else {
		p.logger.Info("job finished", "job", t.Kind, "key", t.Key, "elapsed", time.Since(start).String())
	}

	p.notify(t, job, err)
}

func (p *Pool) execute(job Job) (err error) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return job.Run(ctx)
}

func (p *Pool) notify(t Ticket, job Job, err error) {
	if job.OnDone == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job completion callback panicked", "job", t.Kind, "key", t.Key, "panic", fmt.Sprint(r))
		}
	}()
	job.OnDone(err)
}

// InFlight reports whether a job for key is running or waiting for a slot.
func (p *Pool) InFlight(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[key]
	return ok
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Shutdown stops accepting jobs and waits for running ones to finish or ctx
// to expire. Running jobs are never cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTicketID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// stepNamer is implemented by errors that carry a pipeline step name.
type stepNamer interface {
	StepName() string
}

// ErrorInfo converts a job error into the failure record stored on an item.
// fallbackStep is used when the error does not name its step.
func ErrorInfo(err error, fallbackStep string) model.ErrorInfo {
	step := fallbackStep
	var sn stepNamer
	if errors.As(err, &sn) {
		step = sn.StepName()
	}
	var pe *PanicError
	return model.ErrorInfo{
		FailedStep: step,
		Message:    err.Error(),
		Retryable:  !errors.As(err, &pe),
		FailedAt:   time.Now().UTC().Format(time.RFC3339),
	}
}
