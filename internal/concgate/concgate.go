// Package concgate implements spec.md §4.3's concurrency gate: a
// process-wide multiset of active callers, protected by a mutex; the
// maintenance goroutine waits for it to empty by polling WaitNotInUse.
//
// The original tracks OS thread handles; Go code doesn't have a stable
// per-goroutine identity to key a multiset on (and reaching for one via
// runtime tricks is exactly the kind of thing idiomatic Go avoids), so
// Gate keys its multiset on a Token carried through context.Context —
// the Go-native stand-in for "the calling thread handle" is "the
// request's context", following the same context-propagation
// discipline the teacher threads ctx through every storage call.
package concgate

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Token identifies one logical caller (one external request) across
// re-entrant calls. The zero value is never valid; New mints one.
type Token struct{ id *int }

// New mints a fresh Token.
func New() Token { return Token{id: new(int)} }

func (t Token) valid() bool { return t.id != nil }

type tokenKey struct{}

// WithToken attaches tok to ctx so nested calls reuse the same logical
// caller identity instead of being misidentified as a different one
// (spec.md §4.3: "re-entry from the same thread is permitted").
func WithToken(ctx context.Context, tok Token) context.Context {
	return context.WithValue(ctx, tokenKey{}, tok)
}

// TokenFromContext returns the Token attached by WithToken, minting a
// fresh one if ctx carries none.
func TokenFromContext(ctx context.Context) Token {
	if tok, ok := ctx.Value(tokenKey{}).(Token); ok && tok.valid() {
		return tok
	}
	return New()
}

// Gate is the process-wide indexUsedBy set plus its wait/signal
// machinery.
type Gate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	usedBy   map[Token]int
	trigger  chan struct{} // closed and replaced on InterruptMaintenance
	quit     bool
	waitTime metric.Float64Histogram
}

// NewGate constructs an empty Gate with no wait-time recording.
func NewGate() *Gate {
	return NewGateWithMeter(nil)
}

// NewGateWithMeter constructs a Gate that records WaitNotInUse's block
// duration through meter, the same OTel wait-time histogram the
// teacher's internal/storage/dolt/access_lock.go records while polling
// for a file lock. meter may be nil, in which case no metric is
// recorded.
func NewGateWithMeter(meter metric.Meter) *Gate {
	g := &Gate{usedBy: make(map[Token]int), trigger: make(chan struct{})}
	g.cond = sync.NewCond(&g.mu)
	if meter != nil {
		g.waitTime, _ = meter.Float64Histogram("bxindex.concgate.wait_ms",
			metric.WithDescription("time spent in WaitNotInUse before the gate was free"),
			metric.WithUnit("ms"))
	}
	return g
}

// Enter records tok as an active user of the index. Every user-facing
// mutation/read calls Enter before touching the database and Leave
// when done (spec.md §4.3).
func (g *Gate) Enter(tok Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usedBy[tok]++
}

// Leave removes one occurrence of tok.
func (g *Gate) Leave(tok Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.usedBy[tok]; n <= 1 {
		delete(g.usedBy, tok)
	} else {
		g.usedBy[tok] = n - 1
	}
	g.cond.Broadcast()
}

// IsInUse reports whether any token other than tok currently holds the
// gate.
func (g *Gate) IsInUse(tok Token) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isInUseLocked(tok)
}

func (g *Gate) isInUseLocked(tok Token) bool {
	for t, n := range g.usedBy {
		if n > 0 && t != tok {
			return true
		}
	}
	return false
}

// WaitNotInUse blocks, polling every pollInterval, until no token other
// than tok holds the gate or ctx is cancelled (the Go equivalent of
// spec.md §4.3's quit flag).
func (g *Gate) WaitNotInUse(ctx context.Context, tok Token, pollInterval time.Duration) error {
	start := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if !g.IsInUse(tok) {
			if g.waitTime != nil {
				g.waitTime.Record(ctx, float64(time.Since(start).Milliseconds()))
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// InterruptMaintenance signals the maintenance goroutine sleeping at a
// yield point to wake and release its current transaction before the
// caller proceeds, per spec.md §4.3.
func (g *Gate) InterruptMaintenance() {
	g.mu.Lock()
	old := g.trigger
	g.trigger = make(chan struct{})
	g.mu.Unlock()
	close(old)
}

// Trigger returns the channel the maintenance goroutine should select
// on to notice an InterruptMaintenance call.
func (g *Gate) Trigger() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trigger
}

// EnterNonMaintenance is the composite operation spec.md §4.3 describes
// for every caller that is not the maintenance goroutine itself:
// interrupt any in-flight maintenance yield point, then enter.
func (g *Gate) EnterNonMaintenance(tok Token) {
	g.InterruptMaintenance()
	g.Enter(tok)
}

// Shutdown marks the gate as quitting; WaitNotInUse callers blocked on
// ctx alone still need their own cancellation, but Quitting lets
// long-running loops check the flag directly without a context value.
func (g *Gate) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quit = true
	g.cond.Broadcast()
}

// Quitting reports whether Shutdown has been called.
func (g *Gate) Quitting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.quit
}
