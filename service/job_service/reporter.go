package job_service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bundle-packager/model"
)

// Reporter is the producer side of the progress channel
type Reporter struct {
	ch chan<- model.ProgressEvent
}

// NewReporter wraps ch
func NewReporter(ch chan<- model.ProgressEvent) *Reporter {
	return &Reporter{ch: ch}
}

// Emit sends ev, blocking while the channel is full. It gives up when ctx is done.
func (r *Reporter) Emit(ctx context.Context, ev model.ProgressEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case r.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const subscriberBuffer = 64

type subscriber struct {
	jobID string
	ch    chan model.ProgressEvent
}

// Hub fans progress events out to in-process subscribers. Delivery never blocks,
// a subscriber that falls behind loses events.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
}

// NewHub create hub instance
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe receives events of jobID, or of every job when jobID is empty.
// The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(jobID string) (<-chan model.ProgressEvent, func()) {
	s := &subscriber{jobID: jobID, ch: make(chan model.ProgressEvent, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Publish delivers ev to every matching subscriber
func (h *Hub) Publish(ev model.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.jobID != "" && s.jobID != ev.JobId {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped number of events lost to slow subscribers
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribers current subscriber count
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
