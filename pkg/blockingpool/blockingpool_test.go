package blockingpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTaskAndReturnsError(t *testing.T) {
	p := New(2, 1)
	defer p.StopAndWait()

	err := p.Submit(context.Background(), func() error {
		return fmt.Errorf("boom")
	})
	require.EqualError(t, err, "boom")
}

func TestSubmitRunsManyTasksConcurrently(t *testing.T) {
	p := New(4, 1)
	defer p.StopAndWait()

	var n int64
	for i := 0; i < 20; i++ {
		go func() {
			_ = p.Submit(context.Background(), func() error {
				atomic.AddInt64(&n, 1)
				return nil
			})
		}()
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&n) == 20
	}, time.Second, time.Millisecond)
}

func TestSubmitHonorsContextCancellation(t *testing.T) {
	p := New(1, 1)
	defer p.StopAndWait()

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker so the next submission queues.
	go func() {
		_ = p.Submit(context.Background(), func() error {
			<-block
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Submit(ctx, func() error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
