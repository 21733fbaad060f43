package session

import (
	"time"

	"github.com/trezcool/mahudhurio/core/geo"
)

type Sentiment string

// Sentiment values students may emit during a session. They are an
// engagement signal only, never part of the attendance trust model.
const (
	SentimentUnderstood Sentiment = "understood"
	SentimentNeutral    Sentiment = "neutral"
	SentimentConfused   Sentiment = "confused"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentUnderstood, SentimentNeutral, SentimentConfused:
		return true
	}
	return false
}

// Session is one lecturer-initiated, time-boxed attendance window.
// EndsAt is fixed at creation and never recomputed; once a session has
// ended it is never mutated again.
type Session struct {
	ID         string        `json:"id"`
	ClassID    string        `json:"class_id"`
	LecturerID string        `json:"lecturer_id"`
	Code       string        `json:"code,omitempty"` // opaque scannable payload
	Duration   time.Duration `json:"-"`
	StartedAt  time.Time     `json:"started_at"`
	EndsAt     time.Time     `json:"ends_at"`
	Ended      bool          `json:"ended"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	Fence      *geo.Fence    `json:"fence,omitempty"` // nil: no geofencing
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Active reports whether the session accepts claims at the given instant.
func (s Session) Active(now time.Time) bool {
	return !s.Ended && now.Before(s.EndsAt)
}

// Remaining returns the time left in the window, clamped at zero. It is
// always derived from the stored end time, never from a running counter.
func (s Session) Remaining(now time.Time) time.Duration {
	if s.Ended {
		return 0
	}
	if rem := s.EndsAt.Sub(now); rem > 0 {
		return rem
	}
	return 0
}

// AttendanceRecord is one student's accepted presence claim. Records are
// immutable once created; they are the audit trail.
type AttendanceRecord struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	StudentID   string     `json:"student_id"`
	ScannedAt   time.Time  `json:"scanned_at"`
	Fingerprint string     `json:"device_fingerprint"`
	Location    *geo.Point `json:"location,omitempty"`
}

// Check is one random "are you still here" challenge issued during an
// active session.
type Check struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	IssuerID  string    `json:"issuer_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Ended     bool      `json:"ended"`
}

// Active reports whether the check still accepts responses at the given
// instant. Expiry is observed against each caller's own clock; the store
// clock arbitrates on write.
func (c Check) Active(now time.Time) bool {
	return !c.Ended && now.Before(c.ExpiresAt)
}

func (c Check) Remaining(now time.Time) time.Duration {
	if c.Ended {
		return 0
	}
	if rem := c.ExpiresAt.Sub(now); rem > 0 {
		return rem
	}
	return 0
}

// CheckResponse is one student's acknowledgment of a Check.
type CheckResponse struct {
	ID          string    `json:"id"`
	CheckID     string    `json:"check_id"`
	SessionID   string    `json:"session_id"`
	StudentID   string    `json:"student_id"`
	RespondedAt time.Time `json:"responded_at"`
}

// SentimentSignal is one appended sentiment emission; many per student
// are allowed, and reads only ever aggregate them into counts.
type SentimentSignal struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	Value     Sentiment `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// FingerprintAnomaly surfaces a device fingerprint recorded under several
// distinct student identities. Advisory only: it is shown to the lecturer,
// never auto-blocked.
type FingerprintAnomaly struct {
	Fingerprint string   `json:"device_fingerprint"`
	StudentIDs  []string `json:"student_ids"`
}
