package stream

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPublishFanOut(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := s.Subscribe(ctx)
	second := s.Subscribe(ctx)

	evt := RequestEvent{
		RequestID:  7,
		DivisionID: 1,
		Event:      "request.approve",
		Status:     "approved",
		Payout:     decimal.RequireFromString("132"),
		Timestamp:  time.Now().UTC(),
	}
	s.Publish(evt)

	for _, ch := range []<-chan RequestEvent{first, second} {
		select {
		case got := <-ch:
			if got.RequestID != 7 || got.Event != "request.approve" {
				t.Fatalf("unexpected event: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSubscribeClosesOnContextEnd(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}

	// Publishing after unsubscribe must not panic.
	s.Publish(RequestEvent{RequestID: 1})
}
