package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestSchedulerSkipsOverlappingTriggers(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	calls := 0
	var mu sync.Mutex

	s := NewScheduler(nil, func(context.Context, time.Time) error {
		mu.Lock()
		calls++
		mu.Unlock()
		once.Do(func() { close(started) })
		<-release
		return ErrNothingToPost
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan bool)
	go func() { done <- s.Trigger(context.Background(), time.Now()) }()

	<-started
	if s.Trigger(context.Background(), time.Now()) {
		t.Fatalf("overlapping trigger should be skipped")
	}
	close(release)
	if !<-done {
		t.Fatalf("first trigger should have run")
	}

	if !s.Trigger(context.Background(), time.Now()) {
		t.Fatalf("trigger after completion should run")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected 2 runs, got %d", calls)
	}
}

func TestSchedulerWithoutDriver(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
