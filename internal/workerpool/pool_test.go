package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSubmitRunsTaskOnWorker(t *testing.T) {
	p := New(2, 4, zerolog.Nop())
	p.Start(t.Context())
	defer p.Stop()

	done := make(chan struct{})
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(1, 1, zerolog.Nop())
	p.Start(ctx)
	defer p.Stop()

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() {
		wg.Done()
		<-block
	})
	wg.Wait() // the single worker is now blocked inside that task

	p.Submit(func() {}) // fills the one-slot queue
	p.Submit(func() {}) // queue full, must drop

	close(block)

	if got := p.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	p := New(1, 4, zerolog.Nop())
	p.Start(t.Context())
	defer p.Stop()

	done := make(chan struct{})
	p.Submit(func() { panic("boom") })
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestQueueDepthAndCapacity(t *testing.T) {
	p := New(1, 8, zerolog.Nop())
	if got := p.QueueCapacity(); got != 8 {
		t.Fatalf("QueueCapacity() = %d, want 8", got)
	}
	if got := p.QueueDepth(); got != 0 {
		t.Fatalf("QueueDepth() = %d, want 0", got)
	}
}
