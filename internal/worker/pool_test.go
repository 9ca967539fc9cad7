package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunsSubmittedWork(t *testing.T) {
	p := New(2)
	var ran int32
	var wg sync.WaitGroup
	wg.Add(1)

	err := p.Submit(context.Background(), Item{
		Execute: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
		Done: func(err error) { wg.Done() },
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	wg.Wait()
	if atomic.LoadInt32(&ran) != 1 {
		t.Errorf("expected work to run exactly once, ran=%d", ran)
	}
}

func TestPool_DonePropagatesError(t *testing.T) {
	p := New(1)
	wantErr := errors.New("boom")
	gotErr := make(chan error, 1)

	if err := p.Submit(context.Background(), Item{
		Execute: func(ctx context.Context) error { return wantErr },
		Done:    func(err error) { gotErr <- err },
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case err := <-gotErr:
		if !errors.Is(err, wantErr) {
			t.Errorf("expected %v, got %v", wantErr, err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Done callback")
	}
}

func TestPool_SubmitBlocksWhenFull(t *testing.T) {
	p := New(1)
	release := make(chan struct{})
	started := make(chan struct{})

	if err := p.Submit(context.Background(), Item{
		Execute: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	<-started

	if p.Available() {
		t.Errorf("expected pool to report unavailable while its single slot is occupied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, Item{Execute: func(ctx context.Context) error { return nil }}); err == nil {
		t.Errorf("expected second Submit to block until the deadline and return an error")
	}
	close(release)
}

func TestPool_ShutdownWaitsForInFlightWork(t *testing.T) {
	p := New(1)
	var completed int32
	if err := p.Submit(context.Background(), Item{
		Execute: func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&completed, 1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	p.Shutdown()
	if atomic.LoadInt32(&completed) != 1 {
		t.Errorf("expected Shutdown to wait for the in-flight job, completed=%d", completed)
	}
}

func TestPool_SubmitAfterShutdownFails(t *testing.T) {
	p := New(1)
	p.Shutdown()
	err := p.Submit(context.Background(), Item{Execute: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Errorf("expected Submit to fail after Shutdown")
	}
}
