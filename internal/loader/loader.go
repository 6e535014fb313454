// Package loader persists parsed batches with bounded, linearly backed-off
// retries.
package loader

import (
	"context"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/chatetl/internal/models"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoffUnit = time.Second
)

// Batch kinds.
const (
	KindCalls    = "calls"
	KindMessages = "messages"
)

// BatchStore is the subset of the store the loader writes through. Each
// call is expected to hold its own connection for its duration only.
type BatchStore interface {
	InsertMessages(ctx context.Context, msgs []models.Message) error
	InsertCalls(ctx context.Context, calls []models.Call) error
}

type Options struct {
	MaxAttempts int
	// BackoffUnit is multiplied by the zero-based attempt index to get the
	// wait after a failure.
	BackoffUnit time.Duration
}

// BatchOutcome is what happened to one batch.
type BatchOutcome struct {
	Kind     string
	Rows     int
	Attempts int
	Err      error // last error; nil once persisted
}

func (o BatchOutcome) Persisted() bool { return o.Err == nil }

// Result holds the outcomes of one InsertItems call.
type Result struct {
	Calls    BatchOutcome
	Messages BatchOutcome
}

// Failed returns the outcomes that were not persisted.
func (r Result) Failed() []BatchOutcome {
	var out []BatchOutcome
	for _, o := range []BatchOutcome{r.Calls, r.Messages} {
		if !o.Persisted() {
			out = append(out, o)
		}
	}
	return out
}

type Loader struct {
	store  BatchStore
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(store BatchStore, opts Options, logger *slog.Logger) *Loader {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffUnit < 0 {
		opts.BackoffUnit = DefaultBackoffUnit
	}
	return &Loader{
		store:  store,
		opts:   opts,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// InsertItems writes the calls batch, then the messages batch. Each batch
// retries on its own and a failed batch is reported in the result rather
// than returned as an error.
func (l *Loader) InsertItems(ctx context.Context, msgs []models.Message, calls []models.Call) Result {
	return Result{
		Calls: l.insert(ctx, KindCalls, len(calls), func(ctx context.Context) error {
			return l.store.InsertCalls(ctx, calls)
		}),
		Messages: l.insert(ctx, KindMessages, len(msgs), func(ctx context.Context) error {
			return l.store.InsertMessages(ctx, msgs)
		}),
	}
}

func (l *Loader) insert(ctx context.Context, kind string, rows int, do func(context.Context) error) BatchOutcome {
	out := BatchOutcome{Kind: kind, Rows: rows}
	if rows == 0 {
		return out
	}

	for attempt := 0; attempt < l.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}

		out.Attempts++
		err := do(ctx)
		if err == nil {
			out.Err = nil
			if attempt > 0 {
				l.logger.Info("batch loaded after retry", "kind", kind, "rows", rows, "attempts", out.Attempts)
			}
			return out
		}
		out.Err = err
		l.logger.Error("failed to load batch", "kind", kind, "attempt", attempt, "rows", rows, "error", err)

		if attempt == l.opts.MaxAttempts-1 {
			break
		}
		if err := l.sleep(ctx, time.Duration(attempt)*l.opts.BackoffUnit); err != nil {
			out.Err = err
			return out
		}
	}

	l.logger.Error("giving up on batch", "kind", kind, "rows", rows, "attempts", out.Attempts, "error", out.Err)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
