package bridge

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestLoop_RunsInPostingOrder(t *testing.T) {
	loop := NewLoop()
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	if err := loop.Call(ctx, func() {}); err != nil {
		t.Fatalf("call: %v", err)
	}
	for i := range got {
		if got[i] != i {
			t.Fatalf("handlers out of order: %v", got)
		}
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 handlers, got %d", len(got))
	}
}

func TestLoop_ConcurrentPostersNeverOverlap(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	running := 0
	overlaps := 0
	total := 0
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				loop.Post(func() {
					running++
					if running > 1 {
						overlaps++
					}
					total++
					running--
				})
			}
		}()
	}
	wg.Wait()

	var seen, overlapped int
	if err := loop.Call(ctx, func() { seen, overlapped = total, overlaps }); err != nil {
		t.Fatalf("call: %v", err)
	}
	if seen != 400 || overlapped != 0 {
		t.Errorf("expected 400 serial handlers, got %d with %d overlaps", seen, overlapped)
	}
}

func TestLoop_Stop(t *testing.T) {
	loop := NewLoop()
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	loop.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error from stopped loop, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("loop did not stop")
	}

	if loop.Post(func() {}) {
		t.Error("expected post to fail after stop")
	}
	if err := loop.Call(context.Background(), func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("expected ErrLoopStopped, got %v", err)
	}
}

func TestLoop_HandlersMayPost(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	var got []string
	finished := make(chan struct{})
	loop.Post(func() {
		got = append(got, "first")
		loop.Post(func() {
			got = append(got, "third")
			close(finished)
		})
		got = append(got, "second")
	})

	select {
	case <-finished:
	case <-time.After(waitTimeout):
		t.Fatal("nested post did not run")
	}
	if !reflect.DeepEqual(got, []string{"first", "second", "third"}) {
		t.Errorf("unexpected order %v", got)
	}
}
