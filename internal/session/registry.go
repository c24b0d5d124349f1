// Package session maps users to their conversation history and sandbox
// controller, with TTL eviction and startup orphan cleanup.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tracepad/tracepad"
)

const (
	// DefaultTTL evicts a session after this much inactivity. Matches the
	// sandbox idle budget so the registry and the process host agree on
	// when a user is gone.
	DefaultTTL = 30 * time.Minute
	// DefaultCapacity caps the number of live sessions.
	DefaultCapacity = 1000

	evictInterval = time.Minute
)

// Factory constructs a sandbox controller for one user. remoteID, when
// non-empty, is the id of the user's last known process; the factory may
// reattach to it instead of starting a new one.
type Factory func(ctx context.Context, remoteID string) (tracepad.CodeRunner, error)

// SweepFunc terminates all processes left over from earlier incarnations of
// the application.
type SweepFunc func(ctx context.Context)

// entry is one user's session. The registry mutex guards the table; the
// entry's own mutex guards the runner so slow sandbox construction never
// blocks other users' lookups.
type entry struct {
	mu        sync.Mutex
	runner    tracepad.CodeRunner
	remoteID  string // last known process id, offered to the factory
	conv      *tracepad.Conversation
	lastTouch time.Time
}

// Registry is the process-wide user table.
type Registry struct {
	factory  Factory
	sweep    SweepFunc
	ttl      time.Duration
	capacity int
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	stopCh chan struct{}
	doneCh chan struct{}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTTL overrides the idle eviction window.
func WithTTL(d time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = d }
}

// WithCapacity overrides the session cap.
func WithCapacity(n int) RegistryOption {
	return func(r *Registry) { r.capacity = n }
}

// WithSweep sets the global orphan sweep fired on session starts.
func WithSweep(fn SweepFunc) RegistryOption {
	return func(r *Registry) { r.sweep = fn }
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry and starts its eviction loop. Close stops
// it and terminates every live controller.
func NewRegistry(factory Factory, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory:  factory,
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		logger:   slog.New(slog.DiscardHandler),
		entries:  make(map[string]*entry),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.evictLoop()
	return r
}

// get returns the entry for userID, creating it on demand and touching it.
// At capacity, the stalest entry is evicted to make room.
func (r *Registry) get(userID string) *entry {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		if len(r.entries) >= r.capacity {
			r.evictStalestLocked()
		}
		e = &entry{conv: &tracepad.Conversation{}}
		r.entries[userID] = e
	}
	e.lastTouch = time.Now()
	r.mu.Unlock()
	return e
}

// Conversation returns the user's conversation, creating an empty one on
// demand. The caller (the agent loop task for that user) owns mutation.
func (r *Registry) Conversation(userID string) *tracepad.Conversation {
	e := r.get(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv
}

// ClearMessages truncates the user's history. The controller is untouched:
// interpreter state outlives the visible chat.
func (r *Registry) ClearMessages(userID string) {
	e := r.get(userID)
	e.mu.Lock()
	e.conv = &tracepad.Conversation{}
	e.mu.Unlock()
}

// Sandbox returns the user's controller, constructing one lazily. The last
// recorded remote id is offered to the factory, so a process that outlived
// this client's handle to it is reattached rather than replaced. Serialized
// per user: a caller never races its own construction or reinitialization.
func (r *Registry) Sandbox(ctx context.Context, userID string) (tracepad.CodeRunner, error) {
	e := r.get(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runner != nil {
		return e.runner, nil
	}
	runner, err := r.factory(ctx, e.remoteID)
	if err != nil {
		return nil, err
	}
	e.runner = runner
	e.remoteID = runner.RemoteID()
	r.logger.Info("sandbox created", "user", userID, "remote_id", runner.RemoteID())
	return runner, nil
}

// ResetSandbox terminates and forgets the user's controller, if any. The
// recorded remote id is dropped too: a reset must never be undone by a
// later reattach. The conversation is untouched.
func (r *Registry) ResetSandbox(ctx context.Context, userID string) {
	e := r.get(userID)
	e.mu.Lock()
	runner := e.runner
	e.runner = nil
	e.remoteID = ""
	e.mu.Unlock()
	if runner != nil {
		runner.Terminate(ctx)
		r.logger.Info("sandbox reset", "user", userID)
	}
}

// InitSandbox replaces the user's controller with a fresh one without
// blocking the caller.
func (r *Registry) InitSandbox(userID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		r.initSandbox(ctx, userID)
	}()
}

// initSandbox terminates the old controller and builds a fresh one, always
// with a clean interpreter. The per-entry mutex serializes it against
// Sandbox and against other inits for the same user.
func (r *Registry) initSandbox(ctx context.Context, userID string) {
	e := r.get(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runner != nil {
		e.runner.Terminate(ctx)
		e.runner = nil
	}
	e.remoteID = ""
	runner, err := r.factory(ctx, "")
	if err != nil {
		r.logger.Error("sandbox init failed", "user", userID, "error", err)
		return
	}
	e.runner = runner
	e.remoteID = runner.RemoteID()
	r.logger.Info("sandbox initialized", "user", userID, "remote_id", runner.RemoteID())
}

// SessionStart begins a fresh session: history cleared, orphans from
// earlier incarnations of the application reaped, and a new sandbox warmed
// — in that order, so the sweep can never race this user's own init.
func (r *Registry) SessionStart(userID string) {
	r.ClearMessages(userID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if r.sweep != nil {
			r.sweep(ctx)
		}
		r.initSandbox(ctx, userID)
	}()
}

// Close stops the eviction loop and terminates every live controller.
func (r *Registry) Close() {
	close(r.stopCh)
	<-r.doneCh

	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = map[string]*entry{}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, e := range entries {
		e.mu.Lock()
		if e.runner != nil {
			e.runner.Terminate(ctx)
			e.runner = nil
		}
		e.mu.Unlock()
	}
}

// evictLoop removes idle sessions on a timer.
func (r *Registry) evictLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

// evictExpired removes entries idle past the TTL, terminating their
// controllers outside the table lock.
func (r *Registry) evictExpired() {
	r.mu.Lock()
	var expired []*entry
	for id, e := range r.entries {
		if time.Since(e.lastTouch) > r.ttl {
			expired = append(expired, e)
			delete(r.entries, id)
			r.logger.Info("session evicted", "user", id)
		}
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, e := range expired {
		e.mu.Lock()
		if e.runner != nil {
			e.runner.Terminate(ctx)
			e.runner = nil
		}
		e.mu.Unlock()
	}
}

// evictStalestLocked drops the least recently touched entry. Caller holds
// the table lock; the victim's controller is terminated asynchronously.
func (r *Registry) evictStalestLocked() {
	var victimID string
	var victim *entry
	for id, e := range r.entries {
		if victim == nil || e.lastTouch.Before(victim.lastTouch) {
			victimID, victim = id, e
		}
	}
	if victim == nil {
		return
	}
	delete(r.entries, victimID)
	r.logger.Warn("session evicted at capacity", "user", victimID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		victim.mu.Lock()
		if victim.runner != nil {
			victim.runner.Terminate(ctx)
			victim.runner = nil
		}
		victim.mu.Unlock()
	}()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
