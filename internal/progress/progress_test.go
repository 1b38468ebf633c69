// internal/progress/progress_test.go
package progress_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/progress"
)

func newTestBroadcaster(t *testing.T, buffer int) *progress.Broadcaster {
	t.Helper()
	b := progress.NewBroadcaster(zaptest.NewLogger(t), buffer)
	t.Cleanup(b.Close)
	return b
}

func TestBroadcaster_FanOut(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBroadcaster(t, 4)

	first, unsubFirst := b.Subscribe()
	defer unsubFirst()
	second, unsubSecond := b.Subscribe()
	defer unsubSecond()

	b.Report(schemas.ProgressEvent{Percent: 10, Message: "Creating temporary email..."})

	for _, ch := range []<-chan schemas.ProgressEvent{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, 10, ev.Percent)
			assert.Equal(t, "Creating temporary email...", ev.Message)
			assert.False(t, ev.Timestamp.IsZero(), "timestamp is stamped on report")
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBroadcaster_PreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBroadcaster(t, 32)
	ch, unsub := b.Subscribe()
	defer unsub()

	percents := []int{5, 10, 15, 30, 35, 40, 50}
	for _, p := range percents {
		b.Report(schemas.ProgressEvent{Percent: p})
	}
	for _, want := range percents {
		ev := <-ch
		assert.Equal(t, want, ev.Percent)
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBroadcaster(t, 1)
	b.SetDeliveryTimeout(0)

	slow, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Report(schemas.ProgressEvent{Percent: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Report blocked on a full subscriber")
	}

	ev := <-slow
	assert.Equal(t, 0, ev.Percent, "the buffered event survives")
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBroadcaster(t, 1)
	ch, unsub := b.Subscribe()

	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)

	// Reporting after every subscriber left is harmless.
	b.Report(schemas.ProgressEvent{Percent: 100})
}

func TestBroadcaster_Close(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := progress.NewBroadcaster(zaptest.NewLogger(t), 2)
	ch, unsub := b.Subscribe()

	b.Close()
	b.Close()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")

	b.Report(schemas.ProgressEvent{Percent: 1})
}

func TestBroadcaster_ConcurrentReportAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := progress.NewBroadcaster(zaptest.NewLogger(t), 8)
	ch, _ := b.Subscribe()

	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for range ch {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Report(schemas.ProgressEvent{Percent: n})
			}
		}(i)
	}
	b.Close()
	wg.Wait()
	drained.Wait()
}

func TestTee(t *testing.T) {
	var got []int
	var mu sync.Mutex
	record := progress.SinkFunc(func(ev schemas.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Percent)
	})

	sink := progress.Tee(record, nil, progress.Discard, record)
	sink.Report(schemas.ProgressEvent{Percent: 42})

	require.Len(t, got, 2)
	assert.Equal(t, []int{42, 42}, got)
}
