package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Watchdog periodically probes a dolt sql-server connection with
// SELECT 1 and reports health transitions, the same loop shape as the
// teacher's startWatchdog/watchdogLoop/watchdogCheck in
// internal/storage/dolt/watchdog.go. bxindex's watchdog does not own
// restarting the server process (the server is deployed and supervised
// outside this module, unlike the teacher's embedded single-node
// dolt); it only tracks health and reports transitions as stderr lines.
// Nothing in internal/bxindex or cmd/bxindexd constructs a Watchdog, so
// the "stats" and "doctor" commands do not show its state.
type Watchdog struct {
	db             *sql.DB
	checkInterval  time.Duration
	queryTimeout   time.Duration
	backoffAfter   int
	backoffWindow  time.Duration
	healthGauge    metric.Int64ObservableGauge
	cancel         context.CancelFunc
	done           chan struct{}
}

// NewWatchdog builds a Watchdog over db and creates the
// bxindex.dolt.health observable gauge on meter. No callback is
// registered for the gauge, so it observes no values.
func NewWatchdog(db *sql.DB, meter metric.Meter) (*Watchdog, error) {
	w := &Watchdog{
		db:            db,
		checkInterval: 10 * time.Second,
		queryTimeout:  2 * time.Second,
		backoffAfter:  3,
		backoffWindow: 60 * time.Second,
	}
	gauge, err := meter.Int64ObservableGauge("bxindex.dolt.health",
		metric.WithDescription("1 if the last dolt sql-server health probe succeeded, 0 otherwise"))
	if err != nil {
		return nil, fmt.Errorf("dolt watchdog: gauge: %w", err)
	}
	w.healthGauge = gauge
	return w, nil
}

// Start begins the background probe loop.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
}

// Stop cancels the probe loop and waits up to 5s for it to exit.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		select {
		case <-w.done:
		case <-time.After(5 * time.Second):
		}
	}
}

type watchdogState struct {
	healthy      bool
	failureCount int
	lastFailure  time.Time
	backingOff   bool
}

func (w *Watchdog) loop(ctx context.Context) {
	defer close(w.done)
	state := &watchdogState{healthy: true}
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx, state)
		}
	}
}

func (w *Watchdog) check(ctx context.Context, state *watchdogState) {
	if state.backingOff {
		if time.Since(state.lastFailure) < w.backoffWindow {
			return
		}
		state.backingOff = false
		state.failureCount = 0
	}

	healthy := w.probe(ctx)

	if healthy && !state.healthy {
		fmt.Fprintf(os.Stderr, "dolt watchdog: server recovered (healthy)\n")
		state.healthy = true
		state.failureCount = 0
	} else if !healthy && state.healthy {
		fmt.Fprintf(os.Stderr, "dolt watchdog: server unhealthy\n")
		state.healthy = false
	}

	if !healthy {
		state.failureCount++
		state.lastFailure = time.Now()
		if state.failureCount > w.backoffAfter {
			fmt.Fprintf(os.Stderr, "dolt watchdog: %d consecutive failures, backing off checks to %v\n",
				state.failureCount, w.backoffWindow)
			state.backingOff = true
		}
	}
}

func (w *Watchdog) probe(ctx context.Context) bool {
	qctx, cancel := context.WithTimeout(ctx, w.queryTimeout)
	defer cancel()
	var one int
	err := w.db.QueryRowContext(qctx, "SELECT 1").Scan(&one)
	return err == nil && one == 1
}
