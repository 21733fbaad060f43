package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/session"
)

// SessionView is one observer's local aggregate of a single session:
// attendance feed, sentiment tally and check-response tallies. Events fold
// in keyed by row identity, so the merge is order-independent and safe
// against duplicate delivery. The view is a client-side cache; the store
// stays the source of truth and Resync re-reads it wholesale after a
// dropped subscription.
type SessionView struct {
	sessionID string
	repo      session.Repository

	mu         sync.RWMutex
	ended      bool
	records    map[string]session.AttendanceRecord
	sentiments map[session.Sentiment]int
	responses  map[string]int // check ID -> count
	seen       map[string]struct{}
	latest     *session.Check
}

func NewSessionView(sessionID string, repo session.Repository) *SessionView {
	return &SessionView{
		sessionID:  sessionID,
		repo:       repo,
		records:    make(map[string]session.AttendanceRecord),
		sentiments: make(map[session.Sentiment]int),
		responses:  make(map[string]int),
		seen:       make(map[string]struct{}),
	}
}

// Apply folds one event into the view. Events outside this session's scope
// and redeliveries of already-folded rows are no-ops.
func (v *SessionView) Apply(e Event) error {
	if e.SessionID != v.sessionID {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, dup := v.seen[e.ID]; dup && e.Op == OpInsert {
		return nil
	}

	switch e.Entity {
	case EntityAttendance:
		var rec session.AttendanceRecord
		if err := json.Unmarshal(e.Payload, &rec); err != nil {
			return errors.Wrap(err, "decoding attendance event")
		}
		v.records[rec.ID] = rec

	case EntitySentiment:
		var sig session.SentimentSignal
		if err := json.Unmarshal(e.Payload, &sig); err != nil {
			return errors.Wrap(err, "decoding sentiment event")
		}
		v.sentiments[sig.Value]++

	case EntityCheckResponse:
		var resp session.CheckResponse
		if err := json.Unmarshal(e.Payload, &resp); err != nil {
			return errors.Wrap(err, "decoding check response event")
		}
		v.responses[resp.CheckID]++

	case EntityCheck:
		var chk session.Check
		if err := json.Unmarshal(e.Payload, &chk); err != nil {
			return errors.Wrap(err, "decoding check event")
		}
		v.latest = &chk

	case EntitySession:
		var sess session.Session
		if err := json.Unmarshal(e.Payload, &sess); err != nil {
			return errors.Wrap(err, "decoding session event")
		}
		if sess.Ended {
			v.ended = true
		}
	}

	v.seen[e.ID] = struct{}{}
	return nil
}

// Resync replaces the view with the store's current aggregates. Used after
// a dropped subscription instead of replaying missed events.
func (v *SessionView) Resync(ctx context.Context) error {
	sess, err := v.repo.GetSession(ctx, v.sessionID)
	if err != nil {
		return errors.Wrap(err, "resyncing session")
	}
	recs, err := v.repo.ListAttendance(ctx, v.sessionID)
	if err != nil {
		return errors.Wrap(err, "resyncing attendance")
	}
	tally, err := v.repo.SentimentTally(ctx, v.sessionID)
	if err != nil {
		return errors.Wrap(err, "resyncing sentiment tally")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.ended = sess.Ended
	v.records = make(map[string]session.AttendanceRecord, len(recs))
	v.seen = make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		v.records[rec.ID] = rec
		v.seen[rec.ID] = struct{}{}
	}
	v.sentiments = tally

	for checkID := range v.responses {
		n, err := v.repo.CountCheckResponses(ctx, checkID)
		if err != nil {
			return errors.Wrap(err, "resyncing check tally")
		}
		v.responses[checkID] = n
	}
	return nil
}

// Follow subscribes to the feed and folds events until ctx is canceled.
// On a dropped subscription it resyncs once from the store, then
// resubscribes.
func (v *SessionView) Follow(ctx context.Context, feed Feed) error {
	for {
		sub, err := feed.Subscribe(ctx, Scope{SessionID: v.sessionID})
		if err != nil {
			return errors.Wrap(err, "subscribing to change feed")
		}
		for e := range sub.Events() {
			if err := v.Apply(e); err != nil {
				_ = sub.Close()
				return err
			}
		}
		_ = sub.Close()

		if ctx.Err() != nil {
			return nil
		}
		if err := v.Resync(ctx); err != nil {
			return err
		}
	}
}

// Feed returns the attendance feed ordered by scan time, newest first;
// arrival order is irrelevant, so out-of-order delivery does not reorder
// the view.
func (v *SessionView) Feed() []session.AttendanceRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()

	recs := make([]session.AttendanceRecord, 0, len(v.records))
	for _, rec := range v.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ScannedAt.Equal(recs[j].ScannedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].ScannedAt.After(recs[j].ScannedAt)
	})
	return recs
}

func (v *SessionView) AttendeeCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

func (v *SessionView) SentimentTally() map[session.Sentiment]int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	tally := make(map[session.Sentiment]int, len(v.sentiments))
	for k, n := range v.sentiments {
		tally[k] = n
	}
	return tally
}

func (v *SessionView) CheckTally(checkID string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.responses[checkID]
}

// LatestCheck returns the most recently observed check, or nil.
func (v *SessionView) LatestCheck() *session.Check {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.latest == nil {
		return nil
	}
	chk := *v.latest
	return &chk
}

func (v *SessionView) Ended() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ended
}
