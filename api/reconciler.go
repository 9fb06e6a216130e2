/*
reconciler.go - Background balance drift repair

PURPOSE:
  Cached account balances are updated incrementally on every post. The
  reconciler periodically rebuilds them from posted lines so any drift
  (a crash between writes, a manual SQL fix) heals without an operator.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start, then on every tick
  - Logs each run; runs that fixed something log at warn level

CONFIGURATION:
  - Interval: How often to run (config reconciler.interval, default 1h)
  - Enabled:  Whether the reconciler is active (config reconciler.enabled)

USAGE:
  rec := NewReconciler(handler.Aggregator(), logger)
  rec.Start()
  // ... later
  rec.Stop()

SEE ALSO:
  - handlers.go: Recalculate endpoint (manual run)
  - ledger/balance.go: Aggregator.RecalculateAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/ledger-engine/ledger"
)

// Recalculator rebuilds cached balances. ledger.Aggregator implements it.
type Recalculator interface {
	RecalculateAll(ctx context.Context) (ledger.RecalcSummary, error)
}

// Reconciler periodically repairs balance drift.
type Reconciler struct {
	Interval time.Duration
	Enabled  bool

	recalc Recalculator
	log    zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciler creates an enabled reconciler running every hour.
func NewReconciler(recalc Recalculator, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		Interval: time.Hour,
		Enabled:  true,
		recalc:   recalc,
		log:      log.With().Str("component", "reconciler").Logger(),
	}
}

// Start begins the reconciler. It is a no-op when disabled or running.
func (rc *Reconciler) Start() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.Enabled {
		rc.log.Info().Msg("disabled, not starting")
		return
	}
	if rc.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rc.cancel = cancel
	rc.stop = make(chan struct{})
	rc.ticker = time.NewTicker(rc.Interval)
	rc.wg.Add(1)

	go rc.run(ctx)

	rc.log.Info().Dur("interval", rc.Interval).Msg("started")
}

// Stop stops the reconciler and waits for an in-flight run to finish.
func (rc *Reconciler) Stop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.ticker == nil {
		return
	}
	rc.ticker.Stop()
	close(rc.stop)
	rc.cancel()
	rc.wg.Wait()
	rc.ticker = nil
	rc.log.Info().Msg("stopped")
}

func (rc *Reconciler) run(ctx context.Context) {
	defer rc.wg.Done()

	// Run immediately on start
	rc.RunNow(ctx)

	for {
		select {
		case <-rc.ticker.C:
			rc.RunNow(ctx)
		case <-rc.stop:
			return
		}
	}
}

// RunNow performs one recalculation and returns its summary.
func (rc *Reconciler) RunNow(ctx context.Context) (ledger.RecalcSummary, error) {
	start := time.Now()
	summary, err := rc.recalc.RecalculateAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			rc.log.Error().Err(err).Msg("recalculation failed")
		}
		return summary, err
	}

	ev := rc.log.Debug()
	if summary.AccountsFixed > 0 {
		ev = rc.log.Warn()
	}
	ev.Int("accounts_fixed", summary.AccountsFixed).
		Str("discrepancy_total", summary.DiscrepancyTotal.String()).
		Dur("took", time.Since(start)).
		Msg("balances reconciled")
	return summary, nil
}
