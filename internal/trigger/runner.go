package trigger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source feeds events into deliver until ctx is cancelled or it fails.
// A source must not acknowledge an event before deliver returns.
type Source interface {
	Name() string
	Run(ctx context.Context, deliver func(context.Context, Event) error) error
}

// Runner delivers events to a Router with bounded retries. The retries stand
// in for platform redelivery, so handlers must be idempotent.
type Runner struct {
	router      *Router
	maxAttempts int
	initial     time.Duration
	log         *zap.Logger
}

// NewRunner returns a Runner making at most maxAttempts tries per event.
func NewRunner(router *Router, maxAttempts int, log *zap.Logger) *Runner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{router: router, maxAttempts: maxAttempts, initial: 200 * time.Millisecond, log: log}
}

// Deliver dispatches ev, retrying with exponential backoff on failure. The
// last error is returned once attempts are exhausted.
func (r *Runner) Deliver(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	log := r.log.With(zap.String("event_id", ev.ID), zap.String("path", ev.Path.String()), zap.Stringer("kind", ev.Kind()))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxElapsedTime = 0 // bounded by attempts instead

	attempt := 0
	operation := func() error {
		attempt++
		err := r.router.Dispatch(ctx, ev)
		if err != nil {
			log.Warn("trigger attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxAttempts-1)), ctx))
	if err != nil {
		log.Error("trigger gave up", zap.Int("attempts", attempt), zap.Error(err))
	}
	return err
}

// Run drives every source concurrently until ctx is done or one fails.
func (r *Runner) Run(ctx context.Context, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			r.log.Info("trigger source started", zap.String("source", src.Name()))
			err := src.Run(ctx, r.Deliver)
			r.log.Info("trigger source stopped", zap.String("source", src.Name()), zap.Error(err))
			return err
		})
	}
	return g.Wait()
}
