// internal/progress/progress.go
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/api/schemas"
)

// Sink receives progress events from a running workflow. Report must return
// promptly; a slow sink stalls the workflow.
type Sink interface {
	Report(ev schemas.ProgressEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev schemas.ProgressEvent)

// Report calls f(ev).
func (f SinkFunc) Report(ev schemas.ProgressEvent) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(schemas.ProgressEvent) {})

// DefaultDeliveryTimeout bounds how long Report waits on one full subscriber.
const DefaultDeliveryTimeout = 500 * time.Millisecond

// Broadcaster fans progress events out to any number of subscribers, each with
// its own buffered channel. A subscriber whose buffer stays full for longer than
// the delivery timeout misses that event.
type Broadcaster struct {
	logger          *zap.Logger
	bufferSize      int
	deliveryTimeout time.Duration

	mu          sync.RWMutex
	subscribers map[uint64]chan schemas.ProgressEvent
	nextID      uint64
	isClosed    bool

	// sendMu keeps Report and Close from racing on channel closure.
	sendMu sync.Mutex
}

var _ Sink = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster with per-subscriber buffers of bufferSize.
func NewBroadcaster(logger *zap.Logger, bufferSize int) *Broadcaster {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Broadcaster{
		logger:          logger.Named("progress"),
		bufferSize:      bufferSize,
		deliveryTimeout: DefaultDeliveryTimeout,
		subscribers:     make(map[uint64]chan schemas.ProgressEvent),
	}
}

// SetDeliveryTimeout changes the per-subscriber wait. Zero means never wait.
func (b *Broadcaster) SetDeliveryTimeout(d time.Duration) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	b.deliveryTimeout = d
}

// Subscribe returns a channel of future events and a function that detaches it.
// The channel is closed on unsubscribe or when the broadcaster closes.
func (b *Broadcaster) Subscribe() (<-chan schemas.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan schemas.ProgressEvent, b.bufferSize)
	if b.isClosed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.sendMu.Lock()
			defer b.sendMu.Unlock()
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, unsubscribe
}

// Report stamps ev and delivers it to every subscriber.
func (b *Broadcaster) Report(ev schemas.ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.RLock()
	if b.isClosed {
		b.mu.RUnlock()
		return
	}
	subs := make([]chan schemas.ProgressEvent, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		if b.deliveryTimeout <= 0 {
			b.logger.Warn("Progress subscriber buffer full. Dropping event.", zap.Int("percent", ev.Percent))
			continue
		}
		timer := time.NewTimer(b.deliveryTimeout)
		select {
		case ch <- ev:
		case <-timer.C:
			b.logger.Warn("Progress subscriber too slow. Dropping event.", zap.Int("percent", ev.Percent))
		}
		timer.Stop()
	}
}

// Close closes every subscriber channel. Later reports are ignored.
func (b *Broadcaster) Close() {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed {
		return
	}
	b.isClosed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Tee reports every event to each sink in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ev schemas.ProgressEvent) {
		for _, s := range sinks {
			if s != nil {
				s.Report(ev)
			}
		}
	})
}
