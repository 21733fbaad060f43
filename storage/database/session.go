package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/geo"
	"github.com/trezcool/mahudhurio/core/session"
)

const uniqueViolation = "23505"

type sessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) session.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := repo.db.GetContext(ctx, &now, "SELECT now()"); err != nil {
		// the store clock arbitrates every window; losing it means nothing
		// else can be trusted either
		return time.Time{}, core.NewShutdownError("reading store clock: " + err.Error())
	}
	return now.UTC(), nil
}

func (repo *sessionRepository) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	row := newSessionRow(sess)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO attendance_session
			(id, class_id, lecturer_id, code, duration_secs, started_at, ends_at, ended, fence_lat, fence_lng, fence_radius, created_at, updated_at)
		VALUES
			(:id, :class_id, :lecturer_id, :code, :duration_secs, :started_at, :ends_at, :ended, :fence_lat, :fence_lng, :fence_radius, :created_at, :updated_at)`,
		row,
	)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "inserting session")
	}
	return sess, nil
}

func (repo *sessionRepository) GetSession(ctx context.Context, id string) (session.Session, error) {
	var row sessionRow
	err := repo.db.GetContext(ctx, &row, "SELECT * FROM attendance_session WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, errors.Wrap(err, "getting session")
	}
	return row.toSession(), nil
}

func (repo *sessionRepository) EndSession(ctx context.Context, id string, at time.Time) (session.Session, error) {
	// no-op when already ended; the WHERE guard keeps ended rows immutable
	_, err := repo.db.ExecContext(ctx, `
		UPDATE attendance_session
		SET ended = true, ended_at = $2, updated_at = $2
		WHERE id = $1 AND NOT ended`,
		id, at,
	)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "ending session")
	}
	return repo.GetSession(ctx, id)
}

func (repo *sessionRepository) CreateAttendance(ctx context.Context, rec session.AttendanceRecord) (session.AttendanceRecord, error) {
	row := newAttendanceRow(rec)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO attendance_record
			(id, session_id, student_id, scanned_at, device_fingerprint, lat, lng)
		VALUES
			(:id, :session_id, :student_id, :scanned_at, :device_fingerprint, :lat, :lng)`,
		row,
	)
	if isUniqueViolation(err) {
		// the losing side of a concurrent duplicate submission lands here
		return session.AttendanceRecord{}, session.ErrDuplicateScan
	}
	if err != nil {
		return session.AttendanceRecord{}, errors.Wrap(err, "inserting attendance record")
	}
	return rec, nil
}

func (repo *sessionRepository) HasAttendance(ctx context.Context, sessionID, studentID string) (bool, error) {
	var exists bool
	err := repo.db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM attendance_record WHERE session_id = $1 AND student_id = $2)",
		sessionID, studentID,
	)
	return exists, errors.Wrap(err, "checking attendance")
}

func (repo *sessionRepository) ListAttendance(ctx context.Context, sessionID string) ([]session.AttendanceRecord, error) {
	var rows []attendanceRow
	err := repo.db.SelectContext(ctx, &rows,
		"SELECT * FROM attendance_record WHERE session_id = $1 ORDER BY scanned_at DESC",
		sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "listing attendance")
	}
	recs := make([]session.AttendanceRecord, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.toRecord())
	}
	return recs, nil
}

func (repo *sessionRepository) CountAttendance(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM attendance_record WHERE session_id = $1", sessionID)
	return n, errors.Wrap(err, "counting attendance")
}

func (repo *sessionRepository) CreateCheck(ctx context.Context, chk session.Check) (session.Check, error) {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO session_check (id, session_id, issuer_id, created_at, expires_at, ended)
		VALUES ($1, $2, $3, $4, $5, false)`,
		chk.ID, chk.SessionID, chk.IssuerID, chk.CreatedAt, chk.ExpiresAt,
	)
	if err != nil {
		return session.Check{}, errors.Wrap(err, "inserting check")
	}
	return chk, nil
}

func (repo *sessionRepository) GetCheck(ctx context.Context, id string) (session.Check, error) {
	var row checkRow
	err := repo.db.GetContext(ctx, &row, "SELECT * FROM session_check WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return session.Check{}, session.ErrCheckNotFound
	}
	if err != nil {
		return session.Check{}, errors.Wrap(err, "getting check")
	}
	return row.toCheck(), nil
}

func (repo *sessionRepository) EndCheck(ctx context.Context, id string) (session.Check, error) {
	_, err := repo.db.ExecContext(ctx,
		"UPDATE session_check SET ended = true WHERE id = $1 AND NOT ended", id)
	if err != nil {
		return session.Check{}, errors.Wrap(err, "ending check")
	}
	return repo.GetCheck(ctx, id)
}

func (repo *sessionRepository) CreateCheckResponse(ctx context.Context, resp session.CheckResponse) (session.CheckResponse, error) {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO session_check_response (id, check_id, session_id, student_id, responded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		resp.ID, resp.CheckID, resp.SessionID, resp.StudentID, resp.RespondedAt,
	)
	if isUniqueViolation(err) {
		return session.CheckResponse{}, session.ErrDuplicateResponse
	}
	if err != nil {
		return session.CheckResponse{}, errors.Wrap(err, "inserting check response")
	}
	return resp, nil
}

func (repo *sessionRepository) CountCheckResponses(ctx context.Context, checkID string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM session_check_response WHERE check_id = $1", checkID)
	return n, errors.Wrap(err, "counting check responses")
}

func (repo *sessionRepository) CreateSentiment(ctx context.Context, sig session.SentimentSignal) (session.SentimentSignal, error) {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO session_sentiment (id, session_id, student_id, value, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sig.ID, sig.SessionID, sig.StudentID, sig.Value, sig.CreatedAt,
	)
	if err != nil {
		return session.SentimentSignal{}, errors.Wrap(err, "inserting sentiment")
	}
	return sig, nil
}

func (repo *sessionRepository) SentimentTally(ctx context.Context, sessionID string) (map[session.Sentiment]int, error) {
	rows, err := repo.db.QueryContext(ctx,
		"SELECT value, COUNT(*) FROM session_sentiment WHERE session_id = $1 GROUP BY value",
		sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "tallying sentiment")
	}
	defer func() { _ = rows.Close() }()

	tally := make(map[session.Sentiment]int)
	for rows.Next() {
		var value string
		var n int
		if err = rows.Scan(&value, &n); err != nil {
			return nil, errors.Wrap(err, "tallying sentiment")
		}
		tally[session.Sentiment(value)] = n
	}
	return tally, errors.Wrap(rows.Err(), "tallying sentiment")
}

// SharedFingerprints reports fingerprints seen in this session that appear
// under more than one student identity anywhere in the history.
func (repo *sessionRepository) SharedFingerprints(ctx context.Context, sessionID string) ([]session.FingerprintAnomaly, error) {
	rows, err := repo.db.QueryContext(ctx, `
		SELECT r.device_fingerprint, array_agg(DISTINCT r.student_id ORDER BY r.student_id)
		FROM attendance_record r
		WHERE r.device_fingerprint <> ''
		  AND r.device_fingerprint IN (
			SELECT device_fingerprint FROM attendance_record WHERE session_id = $1
		  )
		GROUP BY r.device_fingerprint
		HAVING COUNT(DISTINCT r.student_id) > 1
		ORDER BY r.device_fingerprint`,
		sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying shared fingerprints")
	}
	defer func() { _ = rows.Close() }()

	anomalies := make([]session.FingerprintAnomaly, 0)
	for rows.Next() {
		var anomaly session.FingerprintAnomaly
		var students pq.StringArray
		if err = rows.Scan(&anomaly.Fingerprint, &students); err != nil {
			return nil, errors.Wrap(err, "querying shared fingerprints")
		}
		anomaly.StudentIDs = students
		anomalies = append(anomalies, anomaly)
	}
	return anomalies, errors.Wrap(rows.Err(), "querying shared fingerprints")
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// row types

type sessionRow struct {
	ID           string          `db:"id"`
	ClassID      string          `db:"class_id"`
	LecturerID   string          `db:"lecturer_id"`
	Code         string          `db:"code"`
	DurationSecs int64           `db:"duration_secs"`
	StartedAt    time.Time       `db:"started_at"`
	EndsAt       time.Time       `db:"ends_at"`
	Ended        bool            `db:"ended"`
	EndedAt      sql.NullTime    `db:"ended_at"`
	FenceLat     sql.NullFloat64 `db:"fence_lat"`
	FenceLng     sql.NullFloat64 `db:"fence_lng"`
	FenceRadius  sql.NullFloat64 `db:"fence_radius"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func newSessionRow(sess session.Session) sessionRow {
	row := sessionRow{
		ID:           sess.ID,
		ClassID:      sess.ClassID,
		LecturerID:   sess.LecturerID,
		Code:         sess.Code,
		DurationSecs: int64(sess.Duration / time.Second),
		StartedAt:    sess.StartedAt,
		EndsAt:       sess.EndsAt,
		Ended:        sess.Ended,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
	}
	if sess.EndedAt != nil {
		row.EndedAt = sql.NullTime{Time: *sess.EndedAt, Valid: true}
	}
	if sess.Fence != nil {
		row.FenceLat = sql.NullFloat64{Float64: sess.Fence.Center.Lat, Valid: true}
		row.FenceLng = sql.NullFloat64{Float64: sess.Fence.Center.Lng, Valid: true}
		row.FenceRadius = sql.NullFloat64{Float64: sess.Fence.Radius, Valid: true}
	}
	return row
}

func (row sessionRow) toSession() session.Session {
	sess := session.Session{
		ID:         row.ID,
		ClassID:    row.ClassID,
		LecturerID: row.LecturerID,
		Code:       row.Code,
		Duration:   time.Duration(row.DurationSecs) * time.Second,
		StartedAt:  row.StartedAt.UTC(),
		EndsAt:     row.EndsAt.UTC(),
		Ended:      row.Ended,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if row.EndedAt.Valid {
		endedAt := row.EndedAt.Time.UTC()
		sess.EndedAt = &endedAt
	}
	if row.FenceRadius.Valid {
		sess.Fence = &geo.Fence{
			Center: geo.Point{Lat: row.FenceLat.Float64, Lng: row.FenceLng.Float64},
			Radius: row.FenceRadius.Float64,
		}
	}
	return sess
}

type attendanceRow struct {
	ID          string          `db:"id"`
	SessionID   string          `db:"session_id"`
	StudentID   string          `db:"student_id"`
	ScannedAt   time.Time       `db:"scanned_at"`
	Fingerprint string          `db:"device_fingerprint"`
	Lat         sql.NullFloat64 `db:"lat"`
	Lng         sql.NullFloat64 `db:"lng"`
}

func newAttendanceRow(rec session.AttendanceRecord) attendanceRow {
	row := attendanceRow{
		ID:          rec.ID,
		SessionID:   rec.SessionID,
		StudentID:   rec.StudentID,
		ScannedAt:   rec.ScannedAt,
		Fingerprint: rec.Fingerprint,
	}
	if rec.Location != nil {
		row.Lat = sql.NullFloat64{Float64: rec.Location.Lat, Valid: true}
		row.Lng = sql.NullFloat64{Float64: rec.Location.Lng, Valid: true}
	}
	return row
}

func (row attendanceRow) toRecord() session.AttendanceRecord {
	rec := session.AttendanceRecord{
		ID:          row.ID,
		SessionID:   row.SessionID,
		StudentID:   row.StudentID,
		ScannedAt:   row.ScannedAt.UTC(),
		Fingerprint: row.Fingerprint,
	}
	if row.Lat.Valid {
		rec.Location = &geo.Point{Lat: row.Lat.Float64, Lng: row.Lng.Float64}
	}
	return rec
}

type checkRow struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	IssuerID  string    `db:"issuer_id"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
	Ended     bool      `db:"ended"`
}

func (row checkRow) toCheck() session.Check {
	return session.Check{
		ID:        row.ID,
		SessionID: row.SessionID,
		IssuerID:  row.IssuerID,
		CreatedAt: row.CreatedAt.UTC(),
		ExpiresAt: row.ExpiresAt.UTC(),
		Ended:     row.Ended,
	}
}
