package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExpiredBatchSize caps how many attempts one sweep claims.
const ExpiredBatchSize = 200

// Finalizer finalizes a single expired attempt.
type Finalizer interface {
	FinalizeExpired(ctx context.Context, attemptID uuid.UUID) error
}

// ExpiredLister finds attempts due for timeout finalization: IN_PROGRESS
// past deadline, plus FINALIZING rows stuck since before staleCutoff.
type ExpiredLister interface {
	ListExpired(ctx context.Context, now, staleCutoff time.Time, limit int) ([]uuid.UUID, error)
}

// DeadlineWorker sweeps for attempts past their deadline and finalizes
// them. It is safe to run on every instance: the conditional status
// update inside finalize makes concurrent sweeps race benignly.
type DeadlineWorker struct {
	lister    ExpiredLister
	finalizer Finalizer
	interval  time.Duration
	timeout   time.Duration
	workers   int
	log       zerolog.Logger
}

func NewDeadlineWorker(
	lister ExpiredLister,
	finalizer Finalizer,
	interval, timeout time.Duration,
	workers int,
	log zerolog.Logger,
) *DeadlineWorker {
	if workers < 1 {
		workers = 1
	}
	return &DeadlineWorker{
		lister:    lister,
		finalizer: finalizer,
		interval:  interval,
		timeout:   timeout,
		workers:   workers,
		log:       log.With().Str("component", "deadline_worker").Logger(),
	}
}

// Start runs the sweep loop until ctx is cancelled. The first sweep runs
// immediately so attempts expired during downtime are picked up at boot.
func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().
		Dur("interval", w.interval).
		Int("workers", w.workers).
		Msg("DeadlineWorker started")

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("DeadlineWorker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep lists due attempts and finalizes them with bounded concurrency.
// One attempt's failure never blocks the rest; failures stay eligible and
// are retried on the next sweep.
func (w *DeadlineWorker) sweep(ctx context.Context) {
	now := time.Now()
	staleCutoff := now.Add(-2 * w.interval)

	expired, err := w.lister.ListExpired(ctx, now, staleCutoff, ExpiredBatchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("Listing expired attempts failed")
		return
	}
	if len(expired) == 0 {
		return
	}

	w.log.Info().Int("count", len(expired)).Msg("Finalizing expired attempts")

	sem := make(chan struct{}, w.workers)
	var wg sync.WaitGroup

	for _, id := range expired {
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()

			attemptCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			if err := w.finalizer.FinalizeExpired(attemptCtx, id); err != nil {
				w.log.Error().Err(err).
					Str("attempt_id", id.String()).
					Msg("Timeout finalize failed")
			}
		}(id)
	}

	wg.Wait()
}
