package inmemdb

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/trezcool/mahudhurio/core/session"
	"github.com/trezcool/mahudhurio/realtime"
)

type sessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) session.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) Now(_ context.Context) (time.Time, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.db.nowFunc(), nil
}

func (repo *sessionRepository) CreateSession(_ context.Context, sess session.Session) (session.Session, error) {
	repo.db.mutex.Lock()
	repo.db.sessions[sess.ID] = &sess
	repo.db.mutex.Unlock()

	repo.publish(sess.ID, realtime.EntitySession, realtime.OpInsert, sess.ID, "", withoutCode(sess))
	return sess, nil
}

// withoutCode strips the scannable code from a session bound for the change
// feed; the store's notify trigger never includes it in event payloads.
func withoutCode(sess session.Session) session.Session {
	sess.Code = ""
	return sess
}

func (repo *sessionRepository) GetSession(_ context.Context, id string) (session.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if sess, ok := repo.db.sessions[id]; ok {
		return *sess, nil
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *sessionRepository) EndSession(_ context.Context, id string, at time.Time) (session.Session, error) {
	repo.db.mutex.Lock()
	sess, ok := repo.db.sessions[id]
	if !ok {
		repo.db.mutex.Unlock()
		return session.Session{}, session.ErrNotFound
	}
	if !sess.Ended {
		sess.Ended = true
		sess.EndedAt = &at
		sess.UpdatedAt = at
	}
	ended := *sess
	repo.db.mutex.Unlock()

	repo.publish(id, realtime.EntitySession, realtime.OpUpdate, id, "", withoutCode(ended))
	return ended, nil
}

func (repo *sessionRepository) CreateAttendance(_ context.Context, rec session.AttendanceRecord) (session.AttendanceRecord, error) {
	repo.db.mutex.Lock()
	for _, existing := range repo.db.attendance {
		if existing.SessionID == rec.SessionID && existing.StudentID == rec.StudentID {
			repo.db.mutex.Unlock()
			return session.AttendanceRecord{}, session.ErrDuplicateScan
		}
	}
	repo.db.attendance[rec.ID] = &rec
	repo.db.mutex.Unlock()

	repo.publish(rec.ID, realtime.EntityAttendance, realtime.OpInsert, rec.SessionID, "", rec)
	return rec, nil
}

func (repo *sessionRepository) HasAttendance(_ context.Context, sessionID, studentID string) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, rec := range repo.db.attendance {
		if rec.SessionID == sessionID && rec.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (repo *sessionRepository) ListAttendance(_ context.Context, sessionID string) ([]session.AttendanceRecord, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	recs := make([]session.AttendanceRecord, 0)
	for _, rec := range repo.db.attendance {
		if rec.SessionID == sessionID {
			recs = append(recs, *rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ScannedAt.After(recs[j].ScannedAt) })
	return recs, nil
}

func (repo *sessionRepository) CountAttendance(ctx context.Context, sessionID string) (int, error) {
	recs, err := repo.ListAttendance(ctx, sessionID)
	return len(recs), err
}

func (repo *sessionRepository) CreateCheck(_ context.Context, chk session.Check) (session.Check, error) {
	repo.db.mutex.Lock()
	repo.db.checks[chk.ID] = &chk
	repo.db.mutex.Unlock()

	repo.publish(chk.ID, realtime.EntityCheck, realtime.OpInsert, chk.SessionID, chk.ID, chk)
	return chk, nil
}

func (repo *sessionRepository) GetCheck(_ context.Context, id string) (session.Check, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if chk, ok := repo.db.checks[id]; ok {
		return *chk, nil
	}
	return session.Check{}, session.ErrCheckNotFound
}

func (repo *sessionRepository) EndCheck(_ context.Context, id string) (session.Check, error) {
	repo.db.mutex.Lock()
	chk, ok := repo.db.checks[id]
	if !ok {
		repo.db.mutex.Unlock()
		return session.Check{}, session.ErrCheckNotFound
	}
	chk.Ended = true
	ended := *chk
	repo.db.mutex.Unlock()

	repo.publish(id, realtime.EntityCheck, realtime.OpUpdate, ended.SessionID, id, ended)
	return ended, nil
}

func (repo *sessionRepository) CreateCheckResponse(_ context.Context, resp session.CheckResponse) (session.CheckResponse, error) {
	repo.db.mutex.Lock()
	for _, existing := range repo.db.responses {
		if existing.CheckID == resp.CheckID && existing.StudentID == resp.StudentID {
			repo.db.mutex.Unlock()
			return session.CheckResponse{}, session.ErrDuplicateResponse
		}
	}
	repo.db.responses[resp.ID] = &resp
	repo.db.mutex.Unlock()

	repo.publish(resp.ID, realtime.EntityCheckResponse, realtime.OpInsert, resp.SessionID, resp.CheckID, resp)
	return resp, nil
}

func (repo *sessionRepository) CountCheckResponses(_ context.Context, checkID string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, resp := range repo.db.responses {
		if resp.CheckID == checkID {
			n++
		}
	}
	return n, nil
}

func (repo *sessionRepository) CreateSentiment(_ context.Context, sig session.SentimentSignal) (session.SentimentSignal, error) {
	repo.db.mutex.Lock()
	repo.db.sentiments[sig.ID] = &sig
	repo.db.mutex.Unlock()

	repo.publish(sig.ID, realtime.EntitySentiment, realtime.OpInsert, sig.SessionID, "", sig)
	return sig, nil
}

func (repo *sessionRepository) SentimentTally(_ context.Context, sessionID string) (map[session.Sentiment]int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	tally := make(map[session.Sentiment]int)
	for _, sig := range repo.db.sentiments {
		if sig.SessionID == sessionID {
			tally[sig.Value]++
		}
	}
	return tally, nil
}

func (repo *sessionRepository) SharedFingerprints(_ context.Context, sessionID string) ([]session.FingerprintAnomaly, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	// fingerprints seen in this session
	inSession := make(map[string]bool)
	for _, rec := range repo.db.attendance {
		if rec.SessionID == sessionID && rec.Fingerprint != "" {
			inSession[rec.Fingerprint] = true
		}
	}

	// students per fingerprint, across all sessions
	students := make(map[string]map[string]bool)
	for _, rec := range repo.db.attendance {
		if !inSession[rec.Fingerprint] {
			continue
		}
		if students[rec.Fingerprint] == nil {
			students[rec.Fingerprint] = make(map[string]bool)
		}
		students[rec.Fingerprint][rec.StudentID] = true
	}

	anomalies := make([]session.FingerprintAnomaly, 0)
	for fp, ids := range students {
		if len(ids) < 2 {
			continue
		}
		anomaly := session.FingerprintAnomaly{Fingerprint: fp}
		for id := range ids {
			anomaly.StudentIDs = append(anomaly.StudentIDs, id)
		}
		sort.Strings(anomaly.StudentIDs)
		anomalies = append(anomalies, anomaly)
	}
	sort.Slice(anomalies, func(i, j int) bool { return anomalies[i].Fingerprint < anomalies[j].Fingerprint })
	return anomalies, nil
}

func (repo *sessionRepository) publish(id string, entity realtime.Entity, op realtime.Op, sessionID, checkID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	repo.db.feed.Publish(realtime.Event{
		ID:        id,
		Entity:    entity,
		Op:        op,
		SessionID: sessionID,
		CheckID:   checkID,
		Payload:   data,
	})
}
