// Package realtime folds the durable store's change-notification feed
// into each observer's local view, so independently-observing clients
// converge on the same aggregates without re-fetching full state.
package realtime

import (
	"context"
	"encoding/json"
)

type Entity string

const (
	EntitySession       Entity = "session"
	EntityAttendance    Entity = "attendance"
	EntityCheck         Entity = "check"
	EntityCheckResponse Entity = "check_response"
	EntitySentiment     Entity = "sentiment"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Event is one committed row change. ID is the changed row's identity, so
// duplicate delivery of the same event is detectable by key.
type Event struct {
	ID        string          `json:"id"`
	Entity    Entity          `json:"entity"`
	Op        Op              `json:"op"`
	SessionID string          `json:"session_id"`
	CheckID   string          `json:"check_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Scope filters a subscription to one session and, optionally, one check.
type Scope struct {
	SessionID string
	CheckID   string
}

func (s Scope) Matches(e Event) bool {
	if e.SessionID != s.SessionID {
		return false
	}
	if s.CheckID != "" && e.CheckID != s.CheckID {
		return false
	}
	return true
}

type (
	// Subscription is a scoped handle on the change feed. The Events
	// channel closes when the subscription drops (connection loss or
	// Close); Err reports why. After a drop the observer must resync
	// from the store rather than assume continuity.
	Subscription interface {
		Events() <-chan Event
		Err() error
		Close() error
	}

	// Feed is the store's change-notification boundary.
	Feed interface {
		Subscribe(ctx context.Context, scope Scope) (Subscription, error)
	}
)
