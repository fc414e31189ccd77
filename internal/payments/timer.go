package payments

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/toolgate-io/toolgate/internal/metrics"
)

// DefaultPendingTTL is how long a pending payment may sit unapproved before
// the timer sweeps it to expired.
const DefaultPendingTTL = 15 * time.Minute

// Timer periodically expires stale pending payments.
type Timer struct {
	engine     *Engine
	store      Store
	pendingTTL time.Duration
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewTimer creates a payment expiry timer.
func NewTimer(engine *Engine, store Store, pendingTTL time.Duration, logger *slog.Logger) *Timer {
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	return &Timer{
		engine:     engine,
		store:      store,
		pendingTTL: pendingTTL,
		interval:   30 * time.Second,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeExpireStale(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeExpireStale(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in payment expiry timer", "panic", fmt.Sprint(r))
		}
	}()
	t.ExpireStale(ctx)
}

// ExpireStale sweeps pending payments older than the TTL to expired.
// Payments that moved past pending since listing are left alone.
func (t *Timer) ExpireStale(ctx context.Context) {
	cutoff := time.Now().Add(-t.pendingTTL)

	stale, err := t.store.ListStalePending(ctx, cutoff, 100)
	if err != nil {
		t.logger.Warn("failed to list stale payments", "error", err)
		return
	}

	for _, tx := range stale {
		// Expire under the engine's per-payment lock so an approval that
		// started after listing wins the race cleanly.
		expired, err := t.engine.Expire(ctx, tx.ID)
		if err != nil {
			t.logger.Warn("failed to expire payment", "paymentId", tx.ID, "error", err)
			continue
		}
		if !expired {
			continue
		}

		metrics.PaymentsExpiredTotal.Inc()
		metrics.PaymentsTotal.WithLabelValues(string(StatusExpired)).Inc()
		t.logger.Info("expired stale payment",
			"paymentId", tx.ID,
			"payer", tx.Payer,
			"toolId", tx.ToolID,
			"amount", tx.Amount,
		)
	}
}
