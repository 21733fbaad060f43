package echoapi

import (
	"time"

	"github.com/trezcool/mahudhurio/core/session"
)

type (
	// SessionResponse is the session wire shape. The scannable code only
	// travels to the issuing lecturer; students verify possession through
	// the scan path, never by reading it back.
	SessionResponse struct {
		ID            string     `json:"id"`
		ClassID       string     `json:"class_id"`
		LecturerID    string     `json:"lecturer_id"`
		Code          string     `json:"code,omitempty"`
		StartedAt     time.Time  `json:"started_at"`
		EndsAt        time.Time  `json:"ends_at"`
		RemainingSecs int64      `json:"remaining_secs"`
		Ended         bool       `json:"ended"`
		EndedAt       *time.Time `json:"ended_at,omitempty"`
		AttendeeCount int        `json:"attendee_count"`
	}

	CheckResponse struct {
		ID            string    `json:"id"`
		SessionID     string    `json:"session_id"`
		CreatedAt     time.Time `json:"created_at"`
		ExpiresAt     time.Time `json:"expires_at"`
		RemainingSecs int64     `json:"remaining_secs"`
		Ended         bool      `json:"ended"`
	}

	CheckTallyResponse struct {
		CheckID       string `json:"check_id"`
		ResponseCount int    `json:"response_count"`
		AttendeeCount int    `json:"attendee_count"`
	}

	SentimentTallyResponse struct {
		SessionID string                    `json:"session_id"`
		Tally     map[session.Sentiment]int `json:"tally"`
	}

	AttendanceFeedResponse struct {
		SessionID string                     `json:"session_id"`
		Count     int                        `json:"count"`
		Records   []session.AttendanceRecord `json:"records"`
	}

	AnomaliesResponse struct {
		SessionID string                       `json:"session_id"`
		Anomalies []session.FingerprintAnomaly `json:"anomalies"`
	}
)

func newSessionResponse(sess session.Session, now time.Time, attendees int, includeCode bool) SessionResponse {
	resp := SessionResponse{
		ID:            sess.ID,
		ClassID:       sess.ClassID,
		LecturerID:    sess.LecturerID,
		StartedAt:     sess.StartedAt,
		EndsAt:        sess.EndsAt,
		RemainingSecs: int64(sess.Remaining(now) / time.Second),
		Ended:         sess.Ended,
		EndedAt:       sess.EndedAt,
		AttendeeCount: attendees,
	}
	if includeCode {
		resp.Code = sess.Code
	}
	return resp
}

func newCheckResponse(chk session.Check, now time.Time) CheckResponse {
	return CheckResponse{
		ID:            chk.ID,
		SessionID:     chk.SessionID,
		CreatedAt:     chk.CreatedAt,
		ExpiresAt:     chk.ExpiresAt,
		RemainingSecs: int64(chk.Remaining(now) / time.Second),
		Ended:         chk.Ended,
	}
}
