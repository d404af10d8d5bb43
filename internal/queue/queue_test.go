package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"fieldpulse/internal/logging"
)

func newTestQueue(capacity int) *Queue {
	q := New(capacity, logging.New("error"), nil)
	q.retryInterval = time.Millisecond
	return q
}

func TestEnqueueNeverBlocks(t *testing.T) {
	q := newTestQueue(1)

	done := make(chan struct{})
	go func() {
		// No worker running and capacity 1: the extra jobs must be
		// dropped, not block the caller.
		for i := 0; i < 5; i++ {
			q.Enqueue("audit", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked")
	}
}

func TestOverflowDropsInsteadOfFailing(t *testing.T) {
	q := newTestQueue(2)
	var processed atomic.Int32
	q.RegisterHandler("audit", func(ctx context.Context, job Job) error {
		processed.Add(1)
		return nil
	})

	for i := 0; i < 10; i++ {
		q.Enqueue("audit", i)
	}
	q.Flush(context.Background())
	require.Equal(t, int32(2), processed.Load())
}

func TestRegisterHandlerFirstWins(t *testing.T) {
	q := newTestQueue(4)
	var first, second atomic.Int32
	q.RegisterHandler("audit", func(ctx context.Context, job Job) error {
		first.Add(1)
		return nil
	})
	q.RegisterHandler("audit", func(ctx context.Context, job Job) error {
		second.Add(1)
		return nil
	})

	q.Enqueue("audit", nil)
	q.Flush(context.Background())
	require.Equal(t, int32(1), first.Load())
	require.Zero(t, second.Load())
}

func TestRetryUntilSuccess(t *testing.T) {
	q := newTestQueue(4)
	var attempts atomic.Int32
	q.RegisterHandler("notify", func(ctx context.Context, job Job) error {
		if attempts.Add(1) < 3 {
			return errors.New("sink down")
		}
		return nil
	})

	q.Enqueue("notify", nil)
	q.Flush(context.Background())
	require.Equal(t, int32(3), attempts.Load())
}

func TestRetryWaitsOnInjectedClock(t *testing.T) {
	mock := quartz.NewMock(t)
	trap := mock.Trap().NewTimer()
	defer trap.Close()

	q := New(4, logging.New("error"), mock)
	var attempts atomic.Int32
	q.RegisterHandler("notify", func(ctx context.Context, job Job) error {
		if attempts.Add(1) == 1 {
			return errors.New("sink down")
		}
		return nil
	})
	q.Enqueue("notify", nil)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		q.Flush(ctx)
		close(done)
	}()

	// The retry wait is scheduled on the mock clock, not wall time.
	call := trap.MustWait(ctx)
	require.Equal(t, q.retryInterval, call.Duration)
	call.Release(ctx)
	mock.Advance(q.retryInterval).MustWait(ctx)

	<-done
	require.Equal(t, int32(2), attempts.Load())
}

func TestFailingJobDoesNotStallTheQueue(t *testing.T) {
	q := newTestQueue(4)
	var ok atomic.Int32
	q.RegisterHandler("bad", func(ctx context.Context, job Job) error {
		panic("handler bug")
	})
	q.RegisterHandler("good", func(ctx context.Context, job Job) error {
		ok.Add(1)
		return nil
	})

	q.Enqueue("bad", nil)
	q.Enqueue("good", nil)
	q.Flush(context.Background())
	require.Equal(t, int32(1), ok.Load())
}

func TestUnknownKindIsDropped(t *testing.T) {
	q := newTestQueue(4)
	q.Enqueue("nobody-home", nil)
	// Must not panic or hang.
	q.Flush(context.Background())
}

func TestStartIsIdempotent(t *testing.T) {
	q := newTestQueue(4)
	var processed atomic.Int32
	q.RegisterHandler("audit", func(ctx context.Context, job Job) error {
		processed.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Start(ctx)

	q.Enqueue("audit", nil)
	require.Eventually(t, func() bool {
		return processed.Load() == 1
	}, time.Second, 5*time.Millisecond)
}
