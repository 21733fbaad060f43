// Package inmemdb is an in-memory stand-in for the durable store, used by
// tests and local tinkering. It enforces the same uniqueness invariants
// and emits the same change events as the real store.
package inmemdb

import (
	"sync"
	"time"

	"github.com/trezcool/mahudhurio/core/session"
)

type DB struct {
	mutex   sync.RWMutex
	nowFunc func() time.Time

	sessions   map[string]*session.Session
	attendance map[string]*session.AttendanceRecord
	checks     map[string]*session.Check
	responses  map[string]*session.CheckResponse
	sentiments map[string]*session.SentimentSignal

	feed *Feed
}

func Open() (*DB, error) {
	return &DB{
		nowFunc:    func() time.Time { return time.Now().UTC() },
		sessions:   make(map[string]*session.Session),
		attendance: make(map[string]*session.AttendanceRecord),
		checks:     make(map[string]*session.Check),
		responses:  make(map[string]*session.CheckResponse),
		sentiments: make(map[string]*session.SentimentSignal),
		feed:       NewFeed(),
	}, nil
}

// Feed returns the store's change-notification feed.
func (db *DB) Feed() *Feed { return db.feed }

// SetNowFunc overrides the store clock; tests use it to move time.
func (db *DB) SetNowFunc(now func() time.Time) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.nowFunc = now
}
