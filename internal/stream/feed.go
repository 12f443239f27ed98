package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/marqd/marqd/internal/domain"
	"github.com/marqd/marqd/internal/logger"
	redisstore "github.com/marqd/marqd/internal/store/redis"
)

// Feed hands out per-owner change-event subscriptions backed by Redis
// pub/sub. Events are delivered in the transport's order; there is no
// replay on reconnect, so a consumer that loses its subscription must
// re-run the bulk fetch to restore consistency.
type Feed struct {
	client *goredis.Client
	log    logger.Logger
}

// New creates a change feed client
func New(client *goredis.Client, log logger.Logger) *Feed {
	return &Feed{client: client, log: log}
}

// Subscribe opens a subscription filtered to one owner's rows. The
// subscription is established before Subscribe returns, so events
// published afterwards are not lost.
func (f *Feed) Subscribe(ctx context.Context, owner string) (*Subscription, error) {
	ps := f.client.Subscribe(ctx, redisstore.FeedChannel(owner))

	// Wait for the subscription confirmation so callers can order a bulk
	// fetch strictly after this point.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to feed for %s: %w", owner, err)
	}

	sub := &Subscription{
		ps:     ps,
		events: make(chan domain.Event, 16),
		done:   make(chan struct{}),
	}
	go sub.pump(ps.Channel(), f.log, owner)

	return sub, nil
}

// Subscription is a live, typed view of one owner's change feed.
type Subscription struct {
	ps        *goredis.PubSub
	events    chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the event channel. It is closed when the subscription
// ends, whether by Close or by transport failure.
func (s *Subscription) Events() <-chan domain.Event {
	return s.events
}

// Close releases the underlying transport and unblocks the pump even if
// the consumer stopped draining Events(). Idempotent, and safe to call
// even if the subscription never fully established.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.ps != nil {
			err = s.ps.Close()
		}
	})
	return err
}

func (s *Subscription) pump(in <-chan *goredis.Message, log logger.Logger, owner string) {
	defer close(s.events)

	for {
		var msg *goredis.Message
		select {
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		case <-s.done:
			return
		}

		var ev domain.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Warn("dropping malformed feed event",
				logger.String("owner", owner),
				logger.Error(err))
			continue
		}
		switch ev.Kind {
		case domain.EventInsert, domain.EventDelete:
		default:
			// Row updates and anything else: accepted, no state change
			ev.Kind = domain.EventOther
		}

		// Never block forever on an abandoned consumer.
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
