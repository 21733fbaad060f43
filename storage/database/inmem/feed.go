package inmemdb

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/realtime"
)

var errSubscriberLagging = errors.New("subscriber fell behind the change feed")

// Feed is an in-process change-notification hub. Writes through the
// repository publish here, mirroring the real store's feed.
type Feed struct {
	mu   sync.Mutex
	subs map[*feedSub]realtime.Scope
}

var _ realtime.Feed = (*Feed)(nil)

func NewFeed() *Feed {
	return &Feed{subs: make(map[*feedSub]realtime.Scope)}
}

func (f *Feed) Subscribe(ctx context.Context, scope realtime.Scope) (realtime.Subscription, error) {
	sub := &feedSub{feed: f, events: make(chan realtime.Event, 64)}

	f.mu.Lock()
	f.subs[sub] = scope
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

// Publish delivers an event to every matching subscriber. A subscriber
// that has fallen 64 events behind is dropped; it must resync.
func (f *Feed) Publish(e realtime.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub, scope := range f.subs {
		if !scope.Matches(e) {
			continue
		}
		select {
		case sub.events <- e:
		default:
			sub.shut(errSubscriberLagging)
			delete(f.subs, sub)
		}
	}
}

func (f *Feed) remove(sub *feedSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, sub)
}

type feedSub struct {
	feed   *Feed
	events chan realtime.Event

	mu     sync.Mutex
	closed bool
	err    error
}

func (s *feedSub) Events() <-chan realtime.Event { return s.events }

func (s *feedSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *feedSub) Close() error {
	s.feed.remove(s)
	s.shut(nil)
	return nil
}

func (s *feedSub) shut(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}
