// Package poll periodically fetches authoritative batch status from the
// engine and merges it into the batch aggregator. Each watch loop holds a
// cancellation token tied to the job identity it serves, so a poll response
// that lands after the loop has stopped is recognized as stale and dropped
// rather than applied.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"simdeck/internal/batch"
	"simdeck/internal/core"
)

// StatusFetcher fetches the authoritative status of a batch job.
type StatusFetcher interface {
	BatchStatus(ctx context.Context, id core.BatchID) (*core.BatchJob, error)
}

// Reconciler runs one fixed-interval poll loop per non-terminal batch.
type Reconciler struct {
	interval time.Duration
	fetcher  StatusFetcher
	agg      *batch.Aggregator
	logger   *slog.Logger

	mu     sync.Mutex
	tokens map[core.BatchID]*token
}

// token identifies one watch generation for a job. Stop invalidates the
// token; a fetch begun under an old token discards its response.
type token struct {
	cancel context.CancelFunc
}

// NewReconciler creates a poll reconciler.
func NewReconciler(interval time.Duration, fetcher StatusFetcher, agg *batch.Aggregator, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		interval: interval,
		fetcher:  fetcher,
		agg:      agg,
		logger:   logger,
		tokens:   make(map[core.BatchID]*token),
	}
}

// Watch starts polling the given batch until its aggregate status turns
// terminal or Stop is called. Watching an already-watched job is a no-op.
func (r *Reconciler) Watch(ctx context.Context, id core.BatchID) {
	r.mu.Lock()
	if _, exists := r.tokens[id]; exists {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	tok := &token{cancel: cancel}
	r.tokens[id] = tok
	r.mu.Unlock()

	go r.loop(ctx, id, tok)
}

// Stop cancels the watch loop for a job. Idempotent.
func (r *Reconciler) Stop(id core.BatchID) {
	r.mu.Lock()
	tok, ok := r.tokens[id]
	if ok {
		delete(r.tokens, id)
	}
	r.mu.Unlock()
	if ok {
		tok.cancel()
	}
}

// IsWatching reports whether a job currently has a live watch loop.
func (r *Reconciler) IsWatching(id core.BatchID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[id]
	return ok
}

// Shutdown stops all watch loops.
func (r *Reconciler) Shutdown() {
	r.mu.Lock()
	tokens := make([]*token, 0, len(r.tokens))
	for id, tok := range r.tokens {
		tokens = append(tokens, tok)
		delete(r.tokens, id)
	}
	r.mu.Unlock()

	for _, tok := range tokens {
		tok.cancel()
	}
}

func (r *Reconciler) loop(ctx context.Context, id core.BatchID, tok *token) {
	logger := r.logger.With("batch_id", id)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.tick(ctx, id, tok, logger) {
				return
			}
		}
	}
}

// tick performs one poll attempt. Returns true when polling should end.
// A failed attempt is logged and retried on the next tick; it is never
// treated as fatal and never as a terminal state. Only an explicit terminal
// aggregate from a successful poll ends the loop.
func (r *Reconciler) tick(ctx context.Context, id core.BatchID, tok *token, logger *slog.Logger) bool {
	server, err := r.fetcher.BatchStatus(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		logger.Warn("batch poll failed, will retry", "error", err)
		return false
	}

	// The response may have raced with Stop. Apply only if this loop's
	// token is still the registered one.
	if !r.stillCurrent(id, tok) {
		logger.Debug("discarding poll response after stop")
		return true
	}

	merged, err := r.agg.MergeServerStatus(id, server)
	if err != nil {
		logger.Warn("merging batch status", "error", err)
		return true
	}

	if merged.Status.Terminal() {
		logger.Info("batch reached terminal status, stopping poll", "status", merged.Status)
		r.Stop(id)
		return true
	}
	return false
}

func (r *Reconciler) stillCurrent(id core.BatchID, tok *token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[id] == tok
}
