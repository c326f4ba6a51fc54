package stream

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RequestEvent describes a lifecycle change on a reimbursement request. The
// HTTP layer fans these out to SSE subscribers watching review queues.
type RequestEvent struct {
	RequestID  int64           `json:"request_id"`
	DivisionID int64           `json:"division_id"`
	Event      string          `json:"event"`
	Status     string          `json:"status"`
	Payout     decimal.Decimal `json:"payout"`
	UserID     int64           `json:"user_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Stream fan-outs request events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan RequestEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan RequestEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan RequestEvent {
	ch := make(chan RequestEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt RequestEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
