package database

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/realtime"
)

const notifyChannel = "session_events"

var (
	errListenerReset     = errors.New("change feed connection was reset")
	errSubscriberLagging = errors.New("subscriber fell behind the change feed")
)

// ListenerFeed bridges Postgres NOTIFY on the session_events channel to
// realtime subscribers. A nil notification from pq marks a reconnect;
// events may have been missed, so every subscription is dropped with an
// error and observers resync from the store.
type ListenerFeed struct {
	listener *pq.Listener
	logger   core.Logger

	mu   sync.Mutex
	subs map[*listenerSub]struct{}
	done chan struct{}
}

var _ realtime.Feed = (*ListenerFeed)(nil)

func NewListenerFeed(conf *core.Config, logger core.Logger) (*ListenerFeed, error) {
	feed := &ListenerFeed{
		logger: logger,
		subs:   make(map[*listenerSub]struct{}),
		done:   make(chan struct{}),
	}

	feed.listener = pq.NewListener(
		ConnString(conf.Database.Name, false, conf),
		time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Error("change feed listener", err)
			}
		},
	)
	if err := feed.listener.Listen(notifyChannel); err != nil {
		_ = feed.listener.Close()
		return nil, errors.Wrapf(err, "listening on %q", notifyChannel)
	}

	go feed.run()
	return feed, nil
}

func (feed *ListenerFeed) Subscribe(ctx context.Context, scope realtime.Scope) (realtime.Subscription, error) {
	sub := &listenerSub{
		feed:   feed,
		scope:  scope,
		events: make(chan realtime.Event, 64),
		done:   make(chan struct{}),
	}

	feed.mu.Lock()
	select {
	case <-feed.done:
		feed.mu.Unlock()
		return nil, errors.New("change feed is closed")
	default:
	}
	feed.subs[sub] = struct{}{}
	feed.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			feed.drop(sub, ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (feed *ListenerFeed) Close() error {
	feed.mu.Lock()
	select {
	case <-feed.done:
		feed.mu.Unlock()
		return nil
	default:
	}
	close(feed.done)
	feed.mu.Unlock()

	feed.dropAll(nil)
	return feed.listener.Close()
}

func (feed *ListenerFeed) run() {
	for {
		select {
		case <-feed.done:
			return
		case notification, ok := <-feed.listener.Notify:
			if !ok {
				feed.dropAll(errListenerReset)
				return
			}
			if notification == nil {
				// reconnected; anything sent meanwhile is lost
				feed.dropAll(errListenerReset)
				continue
			}
			feed.dispatch(notification.Extra)
		}
	}
}

func (feed *ListenerFeed) dispatch(payload string) {
	var event realtime.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		feed.logger.Error("decoding change feed notification", err)
		return
	}

	feed.mu.Lock()
	defer feed.mu.Unlock()
	for sub := range feed.subs {
		if !sub.scope.Matches(event) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			// slow consumers resync instead of stalling the feed
			sub.shut(errSubscriberLagging)
			delete(feed.subs, sub)
		}
	}
}

func (feed *ListenerFeed) drop(sub *listenerSub, err error) {
	feed.mu.Lock()
	defer feed.mu.Unlock()
	if _, ok := feed.subs[sub]; ok {
		sub.shut(err)
		delete(feed.subs, sub)
	}
}

func (feed *ListenerFeed) dropAll(err error) {
	feed.mu.Lock()
	defer feed.mu.Unlock()
	for sub := range feed.subs {
		sub.shut(err)
		delete(feed.subs, sub)
	}
}

type listenerSub struct {
	feed   *ListenerFeed
	scope  realtime.Scope
	events chan realtime.Event

	mu   sync.Mutex
	done chan struct{}
	err  error
}

var _ realtime.Subscription = (*listenerSub)(nil)

func (sub *listenerSub) Events() <-chan realtime.Event { return sub.events }

func (sub *listenerSub) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *listenerSub) Close() error {
	sub.feed.drop(sub, nil)
	return nil
}

func (sub *listenerSub) shut(err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	select {
	case <-sub.done:
		return
	default:
	}
	sub.err = err
	close(sub.done)
	close(sub.events)
}
