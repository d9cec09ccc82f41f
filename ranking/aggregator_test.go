package ranking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"airwatch/song"
)

func ident(i int) song.Identity {
	return song.Identity{Artist: fmt.Sprintf("artist-%d", i), Title: "title"}
}

func TestCapTriggersFlush(t *testing.T) {
	var mu sync.Mutex
	var flushes [][]Increment
	a := New(500, time.Minute, func(ctx context.Context, batch []Increment) error {
		mu.Lock()
		flushes = append(flushes, batch)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 501; i++ {
		a.Add(context.Background(), ident(i), "sertanejo")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(flushes) != 1 {
		t.Fatalf("expected exactly one automatic flush, got %d", len(flushes))
	}
	if len(flushes[0]) != 501 {
		t.Fatalf("expected 501 entries in flush, got %d", len(flushes[0]))
	}
	if a.PendingLen() != 0 {
		t.Fatalf("pending should be empty after flush, got %d", a.PendingLen())
	}
}

func TestRepeatKeyIncrementsInPlace(t *testing.T) {
	a := New(500, time.Minute, func(ctx context.Context, batch []Increment) error { return nil })
	id := ident(1)
	for i := 0; i < 10; i++ {
		a.Add(context.Background(), id, "")
	}
	if a.PendingLen() != 1 {
		t.Fatalf("repeat increments should share one key, got %d", a.PendingLen())
	}
	a.Flush(context.Background())
	if a.Flushed() != 1 {
		t.Fatalf("expected 1 flushed entry, got %d", a.Flushed())
	}
}

func TestFailedFlushRequeues(t *testing.T) {
	calls := 0
	a := New(500, time.Minute, func(ctx context.Context, batch []Increment) error {
		calls++
		if calls == 1 {
			return errors.New("store down")
		}
		return nil
	})
	a.Add(context.Background(), ident(1), "")
	a.Flush(context.Background())
	if a.PendingLen() != 1 {
		t.Fatalf("failed flush should requeue, pending=%d", a.PendingLen())
	}
	a.Flush(context.Background())
	if a.PendingLen() != 0 || a.Flushed() != 1 {
		t.Fatalf("retry flush should drain, pending=%d flushed=%d", a.PendingLen(), a.Flushed())
	}
}

func TestIncrementDuringFlushNotLost(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a := New(500, time.Minute, func(ctx context.Context, batch []Increment) error {
		close(started)
		<-release
		return nil
	})
	a.Add(context.Background(), ident(1), "")

	done := make(chan struct{})
	go func() {
		a.Flush(context.Background())
		close(done)
	}()
	<-started
	a.Add(context.Background(), ident(2), "") // arrives mid-flush
	close(release)
	<-done

	if a.PendingLen() != 1 {
		t.Fatalf("mid-flush increment must survive, pending=%d", a.PendingLen())
	}
}

func TestForegroundRegainFlushesAfterDwell(t *testing.T) {
	var flushes int
	a := New(500, time.Minute, func(ctx context.Context, batch []Increment) error {
		flushes++
		return nil
	})
	a.Add(context.Background(), ident(1), "")

	base := time.Now().UTC()
	// Rapid tab flapping below the dwell threshold: no flush.
	a.MarkHidden(base)
	a.MarkVisible(context.Background(), base.Add(10*time.Second))
	if flushes != 0 {
		t.Fatalf("short dwell should not flush")
	}
	// A real background stint flushes on return.
	a.MarkHidden(base)
	a.MarkVisible(context.Background(), base.Add(2*time.Minute))
	if flushes != 1 {
		t.Fatalf("expected flush after dwell, got %d", flushes)
	}
}

func TestPlayCountSurvivesFlush(t *testing.T) {
	a := New(500, time.Minute, func(ctx context.Context, batch []Increment) error { return nil })
	id := ident(1)
	for i := 0; i < 4; i++ {
		a.Add(context.Background(), id, "")
	}
	a.Flush(context.Background())
	if got := a.PlayCount(id); got != 4 {
		t.Fatalf("cumulative count must survive the flush, got %d", got)
	}
	a.Reset()
	if got := a.PlayCount(id); got != 0 {
		t.Fatalf("reset must clear cumulative counts, got %d", got)
	}
}
