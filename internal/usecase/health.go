package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

type StorePinger interface {
	Ping(ctx context.Context) error
}

// Health tracks whether the message store is reachable. While degraded,
// submissions are refused and reads are still attempted.
type Health struct {
	degraded atomic.Bool
	pinger   StorePinger
	logger   *zap.Logger
}

func NewHealth(pinger StorePinger, logger *zap.Logger) *Health {
	return &Health{
		pinger: pinger,
		logger: logger.Named("health"),
	}
}

func (h *Health) Degraded() bool {
	return h.degraded.Load()
}

func (h *Health) Status() string {
	if h.Degraded() {
		return "degraded"
	}
	return "ok"
}

// MarkDegraded records a store failure.
func (h *Health) MarkDegraded(err error) {
	if h.degraded.CompareAndSwap(false, true) {
		h.logger.Error("message store unavailable, entering read-only mode", zap.Error(err))
	}
}

// Check pings the store and updates the flag.
func (h *Health) Check(ctx context.Context) error {
	if err := h.pinger.Ping(ctx); err != nil {
		h.MarkDegraded(err)
		return storeError(err)
	}
	if h.degraded.CompareAndSwap(true, false) {
		h.logger.Info("message store reachable again")
	}
	return nil
}

// Fail records a store error hit while serving ctx and returns the error to
// report. When ctx itself is done the caller gave up, which says nothing
// about the store, so the flag is left alone.
func (h *Health) Fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	h.MarkDegraded(err)
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return storeError(err)
}

func storeError(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
