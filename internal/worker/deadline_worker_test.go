package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeLister struct {
	ids []uuid.UUID
	err error
}

func (f *fakeLister) ListExpired(_ context.Context, _, _ time.Time, _ int) ([]uuid.UUID, error) {
	return f.ids, f.err
}

type fakeFinalizer struct {
	mu       sync.Mutex
	calls    []uuid.UUID
	failing  map[uuid.UUID]bool
	inFlight int
	maxSeen  int
}

func (f *fakeFinalizer) FinalizeExpired(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.calls = append(f.calls, id)
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	failing := f.failing[id]
	f.mu.Unlock()

	if failing {
		return errors.New("boom")
	}
	return nil
}

func TestSweepFinalizesAllExpired(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	fin := &fakeFinalizer{}
	w := NewDeadlineWorker(&fakeLister{ids: ids}, fin, time.Second, time.Second, 4, zerolog.Nop())

	w.sweep(context.Background())

	assert.ElementsMatch(t, ids, fin.calls)
}

func TestSweepIsolatesFailures(t *testing.T) {
	// One attempt failing to finalize must not prevent the others.
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	fin := &fakeFinalizer{failing: map[uuid.UUID]bool{ids[1]: true}}
	w := NewDeadlineWorker(&fakeLister{ids: ids}, fin, time.Second, time.Second, 1, zerolog.Nop())

	w.sweep(context.Background())

	assert.Len(t, fin.calls, 3)
}

func TestSweepBoundsConcurrency(t *testing.T) {
	ids := make([]uuid.UUID, 12)
	for i := range ids {
		ids[i] = uuid.New()
	}
	fin := &fakeFinalizer{}
	w := NewDeadlineWorker(&fakeLister{ids: ids}, fin, time.Second, time.Second, 3, zerolog.Nop())

	w.sweep(context.Background())

	assert.Len(t, fin.calls, 12)
	assert.LessOrEqual(t, fin.maxSeen, 3)
}

func TestSweepListErrorSkipsPass(t *testing.T) {
	fin := &fakeFinalizer{}
	w := NewDeadlineWorker(&fakeLister{err: errors.New("db down")}, fin, time.Second, time.Second, 2, zerolog.Nop())

	w.sweep(context.Background())

	assert.Empty(t, fin.calls)
}

func TestStartStopsOnCancel(t *testing.T) {
	fin := &fakeFinalizer{}
	w := NewDeadlineWorker(&fakeLister{}, fin, 10*time.Millisecond, time.Second, 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
