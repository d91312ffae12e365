package integration

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// State is the runner's position in its lifecycle:
// STARTING → RUNNING → (BACKOFF ⇄ RUNNING) → STOPPING → STOPPED.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateBackoff
	StateStopping
	StateStopped
)

// String returns the state name used in status output and logs.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Publisher receives every snapshot a runner produces. The production
// pipeline stores the snapshot in the cache and fans it out through the hub.
type Publisher interface {
	Publish(Snapshot)
}

// Status is a point-in-time view of a runner's health.
type Status struct {
	State               State     `json:"state"`
	LastAttempt         time.Time `json:"lastAttempt"`
	LastSuccess         time.Time `json:"lastSuccess"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	LastSeq             uint64    `json:"lastSeq"`
}

// Default runner timing. Overridable per runner for tests.
const (
	defaultBackoffBase = 2 * time.Second
	defaultBackoffMax  = 5 * time.Minute
	defaultStopGrace   = 5 * time.Second
)

// Runner owns the concurrent unit of execution for one integration. It
// repeatedly invokes the source (polling) or keeps its stream open
// (streaming), assigns sequence numbers, and publishes every outcome.
// Exactly one runner exists per registered integration, and the runner's
// goroutine is the only thing that touches its execution state.
type Runner struct {
	source Source
	desc   Descriptor
	pub    Publisher
	logger *slog.Logger

	bo        *backoff
	stopGrace time.Duration

	// refresh coalesces manual refresh requests: capacity 1, so any number
	// of requests arriving while a fetch is in flight collapse into at most
	// one extra fetch afterward.
	refresh chan struct{}

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	started  bool
	seq      uint64
	lastGood Result
	hasGood  bool
	status   Status
}

// NewRunner creates a runner for the given source. The runner does nothing
// until Start is called.
func NewRunner(source Source, pub Publisher, logger *slog.Logger) *Runner {
	desc := source.Descriptor()
	return &Runner{
		source:    source,
		desc:      desc,
		pub:       pub,
		logger:    logger.With("integration", desc.Name),
		bo:        newBackoff(defaultBackoffBase, defaultBackoffMax),
		stopGrace: defaultStopGrace,
		refresh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// SetBackoff overrides the backoff window (useful for testing).
func (r *Runner) SetBackoff(base, max time.Duration) {
	r.bo = newBackoff(base, max)
}

// SetStopGrace overrides the shutdown grace period (useful for testing).
func (r *Runner) SetStopGrace(grace time.Duration) {
	r.stopGrace = grace
}

// Descriptor returns the integration descriptor this runner serves.
func (r *Runner) Descriptor() Descriptor {
	return r.desc
}

// Start launches the runner's goroutine.
// Returns an error if the runner is already running.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.Errorf("runner for %s already started", r.desc.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.started = true
	r.state.Store(int32(StateStarting))

	go r.run(ctx)
	return nil
}

// Stop signals the runner to stop and waits for it to finish. An in-flight
// fetch is given the grace period to complete; after that the runner is
// abandoned rather than allowed to block shutdown.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.state.Store(int32(StateStopping))
	r.cancel()

	select {
	case <-r.done:
	case <-time.After(r.stopGrace):
		r.logger.Warn("runner did not stop within grace period, abandoning in-flight fetch",
			"grace", r.stopGrace)
		r.state.Store(int32(StateStopped))
	}

	return nil
}

// RequestRefresh asks a polling runner to fetch as soon as possible,
// short-circuiting the current interval wait or backoff delay. Requests
// arriving while a fetch is in flight coalesce into a single extra fetch.
// A no-op for streaming runners, which are already continuous.
func (r *Runner) RequestRefresh() bool {
	if r.desc.Capability != CapabilityPolling {
		return false
	}
	select {
	case r.refresh <- struct{}{}:
	default:
		// A refresh is already pending.
	}
	return true
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Status returns a point-in-time view of the runner's health.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.status
	s.State = State(r.state.Load())
	s.LastSeq = r.seq
	return s
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)
	defer r.state.Store(int32(StateStopped))

	switch r.desc.Capability {
	case CapabilityPolling:
		puller, ok := r.source.(Puller)
		if !ok {
			r.logger.Error("polling source does not implement Puller")
			return
		}
		r.runPolling(ctx, puller)
	case CapabilityStreaming:
		streamer, ok := r.source.(Streamer)
		if !ok {
			r.logger.Error("streaming source does not implement Streamer")
			return
		}
		r.runStreaming(ctx, streamer)
	default:
		r.logger.Error("unknown capability", "capability", r.desc.Capability)
	}
}

// runPolling drives the pull/wait loop. On failure it publishes an error
// snapshot carrying the last good payload and backs off before retrying.
func (r *Runner) runPolling(ctx context.Context, src Puller) {
	for {
		r.state.Store(int32(StateRunning))

		res, err := src.Pull(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.publishFailure(err)
			if !r.waitBackoff(ctx) {
				return
			}
			continue
		}

		r.publishSuccess(res)
		if !r.waitInterval(ctx) {
			return
		}
	}
}

// runStreaming keeps the source's stream open, publishing one snapshot per
// emitted event. When the stream fails or ends it backs off and reopens.
func (r *Runner) runStreaming(ctx context.Context, src Streamer) {
	for {
		r.state.Store(int32(StateRunning))

		err := src.Stream(ctx, func(res Result) {
			r.publishSuccess(res)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.publishFailure(err)
		} else {
			r.logger.Warn("stream ended, reopening")
		}

		if !r.waitBackoff(ctx) {
			return
		}
	}
}

// publishSuccess assigns the next sequence number, records the result as the
// last known good state, resets backoff, and publishes.
func (r *Runner) publishSuccess(res Result) {
	now := time.Now()

	r.mu.Lock()
	r.seq++
	r.lastGood = res
	r.hasGood = true
	r.status.LastAttempt = now
	r.status.LastSuccess = now
	r.status.ConsecutiveFailures = 0
	r.status.LastError = ""
	snap := Snapshot{
		Integration: r.desc.Name,
		Seq:         r.seq,
		Payload:     res.Payload,
		Rendered:    res.Rendered,
		FetchedAt:   now,
	}
	r.mu.Unlock()

	r.bo.Reset()
	r.pub.Publish(snap)
}

// publishFailure consumes a sequence number for the failed attempt and
// publishes a snapshot that surfaces the error while retaining the previous
// successful payload for stale-but-valid display.
func (r *Runner) publishFailure(err error) {
	now := time.Now()

	r.mu.Lock()
	r.seq++
	r.status.LastAttempt = now
	r.status.ConsecutiveFailures++
	r.status.LastError = err.Error()
	snap := Snapshot{
		Integration: r.desc.Name,
		Seq:         r.seq,
		FetchedAt:   now,
		Err:         err.Error(),
	}
	if r.hasGood {
		snap.Payload = r.lastGood.Payload
		snap.Rendered = r.lastGood.Rendered
	}
	failures := r.status.ConsecutiveFailures
	r.mu.Unlock()

	r.logger.Error("fetch failed", "error", err.Error(), "consecutiveFailures", failures)
	r.pub.Publish(snap)
}

// waitInterval sleeps out the refresh interval. A manual refresh request
// short-circuits the wait. Returns false when the runner should stop.
func (r *Runner) waitInterval(ctx context.Context) bool {
	timer := time.NewTimer(r.desc.RefreshInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-r.refresh:
		r.logger.Debug("manual refresh requested")
		return true
	}
}

// waitBackoff sleeps out the next backoff delay. A manual refresh request
// resets the backoff window and retries immediately. Returns false when the
// runner should stop.
func (r *Runner) waitBackoff(ctx context.Context) bool {
	delay := r.bo.Next()
	r.state.Store(int32(StateBackoff))
	r.logger.Debug("backing off", "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-r.refresh:
		r.logger.Debug("manual refresh during backoff, retrying immediately")
		r.bo.Reset()
		return true
	}
}
