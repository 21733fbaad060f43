package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/geo"
)

var (
	// errors
	ErrNotFound          = errors.New("session not found")
	ErrCheckNotFound     = errors.New("presence check not found")
	ErrSessionClosed     = errors.New("session has ended")
	ErrDuplicateScan     = errors.New("attendance already recorded")
	ErrCheckExpired      = errors.New("presence check has expired")
	ErrDuplicateResponse = errors.New("presence already confirmed")
	ErrNotOwner          = errors.New("only the issuing lecturer may do this")
)

// OutOfRangeError rejects a claim whose location falls outside the fence.
// The measured distance is carried so the student can reposition and retry.
type OutOfRangeError struct {
	Distance float64 // meters
	Radius   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("out of range: %.0fm away, must be within %.0fm", e.Distance, e.Radius)
}

type (
	// Repository is the durable store boundary. Uniqueness of
	// (session, student) records and (check, student) responses is enforced
	// there; under concurrent duplicates the store accepts exactly one and
	// surfaces ErrDuplicateScan / ErrDuplicateResponse to the losers.
	Repository interface {
		// Now returns the store's clock; it arbitrates all window checks.
		Now(ctx context.Context) (time.Time, error)

		CreateSession(ctx context.Context, sess Session) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		// EndSession flips the active flag off; ending an already-ended
		// session is a no-op returning the unchanged row.
		EndSession(ctx context.Context, id string, at time.Time) (Session, error)

		CreateAttendance(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error)
		HasAttendance(ctx context.Context, sessionID, studentID string) (bool, error)
		ListAttendance(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
		CountAttendance(ctx context.Context, sessionID string) (int, error)

		CreateCheck(ctx context.Context, chk Check) (Check, error)
		GetCheck(ctx context.Context, id string) (Check, error)
		EndCheck(ctx context.Context, id string) (Check, error)
		CreateCheckResponse(ctx context.Context, resp CheckResponse) (CheckResponse, error)
		CountCheckResponses(ctx context.Context, checkID string) (int, error)

		CreateSentiment(ctx context.Context, sig SentimentSignal) (SentimentSignal, error)
		SentimentTally(ctx context.Context, sessionID string) (map[Sentiment]int, error)

		SharedFingerprints(ctx context.Context, sessionID string) ([]FingerprintAnomaly, error)
	}

	Service struct {
		repo     Repository
		notifier core.Notifier
		conf     *core.Config
	}
)

func NewService(repo Repository, notifier core.Notifier, conf *core.Config) *Service {
	return &Service{repo: repo, notifier: notifier, conf: conf}
}

// Start opens an attendance window for a class. The end time is fixed here
// and never recomputed. A single activation notification is requested,
// carrying the course identifier and duration.
func (svc *Service) Start(ctx context.Context, ns NewSession) (Session, error) {
	now, err := svc.repo.Now(ctx)
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:         uuid.NewString(),
		ClassID:    ns.ClassID,
		LecturerID: ns.LecturerID,
		Code:       newCode(),
		Duration:   ns.Duration,
		StartedAt:  now,
		EndsAt:     now.Add(ns.Duration),
		Fence:      ns.Fence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	sess, err = svc.repo.CreateSession(ctx, sess)
	if err != nil {
		return Session{}, err
	}

	if ns.NotifyEmail != "" {
		svc.notifier.Send(&core.Notification{
			To:      []mail.Address{{Address: ns.NotifyEmail}},
			Subject: "Attendance session started",
			Body: fmt.Sprintf(
				"Attendance for %s is open for %s.", sess.ClassID, sess.Duration),
		})
	}
	return sess, nil
}

// End terminates a session. lecturerID must be the issuer; pass the empty
// string for engine-internal termination (clock expiry). Idempotent.
func (svc *Service) End(ctx context.Context, id, lecturerID string) (Session, error) {
	sess, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if lecturerID != "" && sess.LecturerID != lecturerID {
		return Session{}, ErrNotOwner
	}
	if sess.Ended {
		return sess, nil
	}
	now, err := svc.repo.Now(ctx)
	if err != nil {
		return Session{}, err
	}
	return svc.repo.EndSession(ctx, id, now)
}

func (svc *Service) Get(ctx context.Context, id string) (Session, error) {
	return svc.repo.GetSession(ctx, id)
}

// SubmitScan runs an attendance claim through the accept path, in order,
// short-circuiting on the first failure:
//
//  1. liveness: the session window must be open (store clock);
//  2. duplicate: at most one record per (session, student); the local
//     check is an optimization, the store's uniqueness constraint is the
//     safety mechanism under races;
//  3. geofence, when the session requires location;
//  4. accept: the record becomes durable.
//
// The device fingerprint is attached as metadata on acceptance; it never
// gates the claim.
func (svc *Service) SubmitScan(ctx context.Context, in ScanInput) (AttendanceRecord, error) {
	sess, err := svc.repo.GetSession(ctx, in.SessionID)
	if err != nil {
		return AttendanceRecord{}, err
	}
	now, err := svc.repo.Now(ctx)
	if err != nil {
		return AttendanceRecord{}, err
	}

	if !sess.Active(now) {
		return AttendanceRecord{}, ErrSessionClosed
	}
	if in.Code != sess.Code {
		return AttendanceRecord{}, core.NewValidationError(nil,
			core.FieldError{Field: "code", Error: "invalid or stale code"})
	}

	if dup, err := svc.repo.HasAttendance(ctx, sess.ID, in.StudentID); err != nil {
		return AttendanceRecord{}, err
	} else if dup {
		return AttendanceRecord{}, ErrDuplicateScan
	}

	if sess.Fence != nil {
		loc, err := requireLocation(in.Location)
		if err != nil {
			return AttendanceRecord{}, err
		}
		if d, ok := sess.Fence.Evaluate(loc); !ok {
			return AttendanceRecord{}, &OutOfRangeError{Distance: d, Radius: sess.Fence.Radius}
		}
	}

	rec := AttendanceRecord{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		StudentID:   in.StudentID,
		ScannedAt:   now,
		Fingerprint: in.Fingerprint,
		Location:    in.Location,
	}
	return svc.repo.CreateAttendance(ctx, rec)
}

// TriggerCheck issues a presence check with the configured fixed window.
func (svc *Service) TriggerCheck(ctx context.Context, sessionID, issuerID string) (Check, error) {
	sess, err := svc.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Check{}, err
	}
	if sess.LecturerID != issuerID {
		return Check{}, ErrNotOwner
	}
	now, err := svc.repo.Now(ctx)
	if err != nil {
		return Check{}, err
	}
	if !sess.Active(now) {
		return Check{}, ErrSessionClosed
	}

	chk := Check{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		IssuerID:  issuerID,
		CreatedAt: now,
		ExpiresAt: now.Add(svc.conf.Session.CheckWindow),
	}
	return svc.repo.CreateCheck(ctx, chk)
}

// EndCheck deactivates a check before its window lapses.
func (svc *Service) EndCheck(ctx context.Context, checkID, issuerID string) (Check, error) {
	chk, err := svc.repo.GetCheck(ctx, checkID)
	if err != nil {
		return Check{}, err
	}
	if chk.IssuerID != issuerID {
		return Check{}, ErrNotOwner
	}
	if chk.Ended {
		return chk, nil
	}
	return svc.repo.EndCheck(ctx, checkID)
}

// RespondToCheck records a student's acknowledgment. Late submissions are
// rejected against the store clock. When the session is geofenced the
// location is re-validated with a relaxed radius to absorb GPS drift
// mid-class.
func (svc *Service) RespondToCheck(ctx context.Context, in CheckResponseInput) (CheckResponse, error) {
	chk, err := svc.repo.GetCheck(ctx, in.CheckID)
	if err != nil {
		return CheckResponse{}, err
	}
	now, err := svc.repo.Now(ctx)
	if err != nil {
		return CheckResponse{}, err
	}
	if !chk.Active(now) {
		return CheckResponse{}, ErrCheckExpired
	}

	sess, err := svc.repo.GetSession(ctx, chk.SessionID)
	if err != nil {
		return CheckResponse{}, err
	}
	if sess.Fence != nil {
		loc, err := requireLocation(in.Location)
		if err != nil {
			return CheckResponse{}, err
		}
		fence := sess.Fence.Widen(svc.conf.Session.CheckRadiusMargin)
		if d, ok := fence.Evaluate(loc); !ok {
			return CheckResponse{}, &OutOfRangeError{Distance: d, Radius: fence.Radius}
		}
	}

	resp := CheckResponse{
		ID:          uuid.NewString(),
		CheckID:     chk.ID,
		SessionID:   chk.SessionID,
		StudentID:   in.StudentID,
		RespondedAt: now,
	}
	return svc.repo.CreateCheckResponse(ctx, resp)
}

// SubmitSentiment appends a sentiment signal; any number per student is
// allowed while the session is open.
func (svc *Service) SubmitSentiment(ctx context.Context, sessionID, studentID string, value Sentiment) (SentimentSignal, error) {
	if !value.Valid() {
		return SentimentSignal{}, core.NewValidationError(nil,
			core.FieldError{Field: "value", Error: "must be one of: understood, neutral, confused"})
	}
	sess, err := svc.repo.GetSession(ctx, sessionID)
	if err != nil {
		return SentimentSignal{}, err
	}
	now, err := svc.repo.Now(ctx)
	if err != nil {
		return SentimentSignal{}, err
	}
	if !sess.Active(now) {
		return SentimentSignal{}, ErrSessionClosed
	}

	sig := SentimentSignal{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		StudentID: studentID,
		Value:     value,
		CreatedAt: now,
	}
	return svc.repo.CreateSentiment(ctx, sig)
}

// Live views

func (svc *Service) Remaining(ctx context.Context, sessionID string) (time.Duration, error) {
	sess, err := svc.repo.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	now, err := svc.repo.Now(ctx)
	if err != nil {
		return 0, err
	}
	return sess.Remaining(now), nil
}

func (svc *Service) AttendeeCount(ctx context.Context, sessionID string) (int, error) {
	return svc.repo.CountAttendance(ctx, sessionID)
}

func (svc *Service) LiveFeed(ctx context.Context, sessionID string) ([]AttendanceRecord, error) {
	return svc.repo.ListAttendance(ctx, sessionID)
}

func (svc *Service) SentimentTally(ctx context.Context, sessionID string) (map[Sentiment]int, error) {
	return svc.repo.SentimentTally(ctx, sessionID)
}

func (svc *Service) GetCheck(ctx context.Context, checkID string) (Check, error) {
	return svc.repo.GetCheck(ctx, checkID)
}

func (svc *Service) CheckTally(ctx context.Context, checkID string) (int, error) {
	return svc.repo.CountCheckResponses(ctx, checkID)
}

// Anomalies surfaces device fingerprints shared across distinct students,
// for lecturer review.
func (svc *Service) Anomalies(ctx context.Context, sessionID string) ([]FingerprintAnomaly, error) {
	return svc.repo.SharedFingerprints(ctx, sessionID)
}

func requireLocation(p *geo.Point) (geo.Point, error) {
	if p == nil {
		return geo.Point{}, core.NewValidationError(nil,
			core.FieldError{Field: "location", Error: "this session requires a location"})
	}
	return *p, nil
}

// newCode generates the session's opaque scannable payload. Possession of
// it proves nothing by itself; the accept path does.
func newCode() string {
	b := make([]byte, 9)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
