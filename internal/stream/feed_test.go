package stream

import (
	"encoding/json"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/marqd/marqd/internal/domain"
	"github.com/marqd/marqd/internal/logger"
)

func newTestSubscription() *Subscription {
	return &Subscription{
		events: make(chan domain.Event, 16),
		done:   make(chan struct{}),
	}
}

func insertMessage(t *testing.T, id string) *goredis.Message {
	t.Helper()
	payload, err := json.Marshal(domain.Event{
		Kind:     domain.EventInsert,
		Bookmark: &domain.Bookmark{ID: id},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &goredis.Message{Payload: string(payload)}
}

func TestCloseUnblocksPumpWithAbandonedConsumer(t *testing.T) {
	sub := newTestSubscription()
	in := make(chan *goredis.Message)

	pumpExited := make(chan struct{})
	go func() {
		sub.pump(in, logger.New("error", false), "user-1")
		close(pumpExited)
	}()

	// Nobody reads Events(). Feed enough messages to fill the buffer and
	// leave the pump blocked mid-send.
	msg := insertMessage(t, "bm-01")
	fed := make(chan struct{})
	go func() {
		for i := 0; i < 17; i++ {
			in <- msg
		}
		close(fed)
	}()

	select {
	case <-fed:
	case <-time.After(2 * time.Second):
		t.Fatal("pump stopped consuming before the buffer filled")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-pumpExited:
	case <-time.After(2 * time.Second):
		t.Fatal("pump still blocked after Close")
	}

	// The events channel must end up closed so a late reader unblocks too.
	drained := 0
	for range sub.events {
		drained++
	}
	if drained > 16 {
		t.Fatalf("drained %d events, want at most the buffer size", drained)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	sub := newTestSubscription()
	if err := sub.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestPumpDecodesAndClassifiesEvents(t *testing.T) {
	sub := newTestSubscription()
	in := make(chan *goredis.Message)
	go sub.pump(in, logger.New("error", false), "user-1")

	in <- insertMessage(t, "bm-01")
	in <- &goredis.Message{Payload: `{"kind":"delete","id":"bm-02"}`}
	in <- &goredis.Message{Payload: `not json`}
	in <- &goredis.Message{Payload: `{"kind":"update","id":"bm-03"}`}
	close(in)

	var got []domain.Event
	for ev := range sub.Events() {
		got = append(got, ev)
	}

	if len(got) != 3 {
		t.Fatalf("got %d events, want 3 (malformed payload dropped)", len(got))
	}
	if got[0].Kind != domain.EventInsert || got[0].RecordID() != "bm-01" {
		t.Errorf("event 0 = %+v, want insert bm-01", got[0])
	}
	if got[1].Kind != domain.EventDelete || got[1].RecordID() != "bm-02" {
		t.Errorf("event 1 = %+v, want delete bm-02", got[1])
	}
	if got[2].Kind != domain.EventOther {
		t.Errorf("event 2 kind = %q, want %q", got[2].Kind, domain.EventOther)
	}
}
