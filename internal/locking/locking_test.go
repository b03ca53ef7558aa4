package locking

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemory_ContendedKeyReturnsErrLocked(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := m.WithExclusiveLock(ctx, "case:1", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
		if err != nil {
			t.Errorf("holder: unexpected err: %v", err)
		}
	}()

	<-entered
	err := m.WithExclusiveLock(ctx, "case:1", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	close(release)
	wg.Wait()
}

func TestMemory_DifferentKeysDoNotContend(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.WithExclusiveLock(ctx, "case:1", func(ctx context.Context) error {
		return m.WithExclusiveLock(ctx, "case:2", func(ctx context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestMemory_ReleasedAfterError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	if err := m.WithExclusiveLock(ctx, "case:1", func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}
	if err := m.WithExclusiveLock(ctx, "case:1", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("lock not released after error: %v", err)
	}
}

func TestMemory_OnlyOneWinnerUnderConcurrency(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const attempts = 32
	start := make(chan struct{})
	var wins, contended int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := m.WithExclusiveLock(ctx, "case:1", func(ctx context.Context) error {
				mu.Lock()
				wins++
				mu.Unlock()
				return nil
			})
			if errors.Is(err, ErrLocked) {
				mu.Lock()
				contended++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins+contended != attempts {
		t.Fatalf("expected every attempt to win or contend, wins=%d contended=%d", wins, contended)
	}
	if wins == 0 {
		t.Fatalf("expected at least one winner")
	}
}
