package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeEnqueuer struct {
	calls atomic.Int32
}

func (f *fakeEnqueuer) FullSync(ctx context.Context) error {
	f.calls.Add(1)
	return nil
}

func TestScheduler_EnqueuesOnInterval(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := New(enq, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return enq.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
