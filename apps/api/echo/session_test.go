package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core/geo"
	"github.com/trezcool/mahudhurio/core/session"
)

var (
	campus = geo.Point{Lat: -1.9535, Lng: 30.0606}
	at80m  = geo.Point{Lat: campus.Lat + 0.000719, Lng: campus.Lng}
	at150m = geo.Point{Lat: campus.Lat + 0.001349, Lng: campus.Lng}
)

func startFencedSession(t *testing.T, app *testApp) SessionResponse {
	body := marshallObj(t, map[string]interface{}{
		"class_id":      "phy-101",
		"duration_secs": 3600,
		"fence":         geo.Fence{Center: campus, Radius: 100},
	})
	req, rec := newAuthRequest(http.MethodPost, "/v1/sessions", lecturerToken(t, "lect-1"), body)
	app.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SessionResponse
	decodeBody(t, rec, &resp)
	return resp
}

func Test_sessionApi_start(t *testing.T) {
	app := newTestApp(t)

	t.Run("requires auth", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/sessions")
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("students may not start sessions", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions", studentToken(t, "stud-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("duration is validated", func(t *testing.T) {
		body := marshallObj(t, map[string]interface{}{"class_id": "phy-101", "duration_secs": 10})
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions", lecturerToken(t, "lect-1"), body)
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("lecturer gets the session with its code", func(t *testing.T) {
		resp := startFencedSession(t, app)
		assert.NotEmpty(t, resp.ID)
		assert.NotEmpty(t, resp.Code)
		assert.Equal(t, "lect-1", resp.LecturerID)
		assert.Equal(t, int64(3600), resp.RemainingSecs)
	})
}

func Test_sessionApi_retrieve(t *testing.T) {
	app := newTestApp(t)
	sess := startFencedSession(t, app)

	t.Run("lecturer sees the code", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/"+sess.ID, lecturerToken(t, "lect-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp SessionResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, sess.Code, resp.Code)
	})

	t.Run("students do not", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/"+sess.ID, studentToken(t, "stud-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp SessionResponse
		decodeBody(t, rec, &resp)
		assert.Empty(t, resp.Code)
	})

	t.Run("unknown session is a 404", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/nope", studentToken(t, "stud-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_sessionApi_scan(t *testing.T) {
	app := newTestApp(t)
	sess := startFencedSession(t, app)

	scan := func(t *testing.T, studentID string, loc *geo.Point) *httptest.ResponseRecorder {
		body := marshallObj(t, session.ScanInput{
			Code:        sess.Code,
			Fingerprint: "device-" + studentID,
			Location:    loc,
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/scans", studentToken(t, studentID), body)
		app.server.ServeHTTP(rec, req)
		return rec
	}

	t.Run("lecturers may not scan", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/scans", lecturerToken(t, "lect-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("out of range is a 422 carrying the distance", func(t *testing.T) {
		rec := scan(t, "stud-1", &at150m)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "distance_meters")
		assert.Contains(t, rec.Body.String(), "radius_meters")
	})

	t.Run("back in range is accepted", func(t *testing.T) {
		rec := scan(t, "stud-1", &at80m)
		assert.Equal(t, http.StatusCreated, rec.Code)

		var accepted session.AttendanceRecord
		decodeBody(t, rec, &accepted)
		assert.Equal(t, "stud-1", accepted.StudentID)
	})

	t.Run("duplicate scan is a 409", func(t *testing.T) {
		rec := scan(t, "stud-1", &campus)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("bad code is a 400", func(t *testing.T) {
		body := marshallObj(t, session.ScanInput{Code: "bogus", Fingerprint: "device-x", Location: &campus})
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/scans", studentToken(t, "stud-2"), body)
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("closed session is a 409", func(t *testing.T) {
		app.clock.Advance(2 * time.Hour)
		rec := scan(t, "stud-2", &campus)
		assert.Equal(t, http.StatusConflict, rec.Code)
		var herr httpErr
		decodeBody(t, rec, &herr)
		assert.Equal(t, session.ErrSessionClosed.Error(), herr.Error)
	})
}

func Test_sessionApi_end(t *testing.T) {
	app := newTestApp(t)
	sess := startFencedSession(t, app)

	t.Run("only the issuer may end", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/end", lecturerToken(t, "lect-2"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("issuer ends it", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/end", lecturerToken(t, "lect-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp SessionResponse
		decodeBody(t, rec, &resp)
		assert.True(t, resp.Ended)
		assert.Equal(t, int64(0), resp.RemainingSecs)
	})

	t.Run("ending again is a no-op", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/end", lecturerToken(t, "lect-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func Test_sessionApi_checks(t *testing.T) {
	app := newTestApp(t)
	sess := startFencedSession(t, app)

	var chk CheckResponse
	t.Run("lecturer triggers a check", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/checks", lecturerToken(t, "lect-1"))
		app.server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		decodeBody(t, rec, &chk)
		assert.Equal(t, int64(60), chk.RemainingSecs)
	})

	respond := func(studentID string, loc *geo.Point) *httptest.ResponseRecorder {
		body := marshallObj(t, session.CheckResponseInput{Location: loc})
		req, rec := newAuthRequest(http.MethodPost, "/v1/checks/"+chk.ID+"/responses", studentToken(t, studentID), body)
		app.server.ServeHTTP(rec, req)
		return rec
	}

	t.Run("student responds in time", func(t *testing.T) {
		app.clock.Advance(20 * time.Second)
		rec := respond("stud-1", &campus)
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("second response is a 409", func(t *testing.T) {
		rec := respond("stud-1", &campus)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("tally is lecturer only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/checks/"+chk.ID+"/tally", studentToken(t, "stud-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		req, rec = newAuthRequest(http.MethodGet, "/v1/checks/"+chk.ID+"/tally", lecturerToken(t, "lect-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		var tally CheckTallyResponse
		decodeBody(t, rec, &tally)
		assert.Equal(t, 1, tally.ResponseCount)
	})

	t.Run("late response is a 410", func(t *testing.T) {
		app.clock.Advance(time.Minute)
		rec := respond("stud-2", &campus)
		assert.Equal(t, http.StatusGone, rec.Code)
	})
}

func Test_sessionApi_sentiment(t *testing.T) {
	app := newTestApp(t)
	sess := startFencedSession(t, app)

	submit := func(studentID, value string) *httptest.ResponseRecorder {
		body := []byte(fmt.Sprintf(`{"value":%q}`, value))
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/sentiments", studentToken(t, studentID), body)
		app.server.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusCreated, submit("stud-1", "understood").Code)
	assert.Equal(t, http.StatusCreated, submit("stud-1", "confused").Code)
	assert.Equal(t, http.StatusCreated, submit("stud-2", "confused").Code)
	assert.Equal(t, http.StatusBadRequest, submit("stud-1", "meh").Code)

	req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/sentiments", lecturerToken(t, "lect-1"))
	app.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var tally SentimentTallyResponse
	decodeBody(t, rec, &tally)
	assert.Equal(t, map[session.Sentiment]int{
		session.SentimentUnderstood: 1,
		session.SentimentConfused:   2,
	}, tally.Tally)
}

func Test_sessionApi_anomalies(t *testing.T) {
	app := newTestApp(t)
	sess := startFencedSession(t, app)

	scan := func(studentID, fingerprint string) {
		body := marshallObj(t, session.ScanInput{Code: sess.Code, Fingerprint: fingerprint, Location: &campus})
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/scans", studentToken(t, studentID), body)
		app.server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	scan("stud-1", "shared-device")
	scan("stud-2", "shared-device")

	t.Run("lecturer only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/anomalies", studentToken(t, "stud-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("shared fingerprints are surfaced", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/anomalies", lecturerToken(t, "lect-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp AnomaliesResponse
		decodeBody(t, rec, &resp)
		if assert.Len(t, resp.Anomalies, 1) {
			assert.Equal(t, "shared-device", resp.Anomalies[0].Fingerprint)
			assert.ElementsMatch(t, []string{"stud-1", "stud-2"}, resp.Anomalies[0].StudentIDs)
		}
	})
}

func Test_sessionApi_attendance(t *testing.T) {
	app := newTestApp(t)
	sess := startFencedSession(t, app)

	body := marshallObj(t, session.ScanInput{Code: sess.Code, Fingerprint: "device-1", Location: &campus})
	req, rec := newAuthRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/scans", studentToken(t, "stud-1"), body)
	app.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("lecturer only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/attendance", studentToken(t, "stud-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("feed lists accepted claims", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/attendance", lecturerToken(t, "lect-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp AttendanceFeedResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, "stud-1", resp.Records[0].StudentID)
	})
}

func Test_sessionApi_events(t *testing.T) {
	app := newTestApp(t)
	sess := startFencedSession(t, app)

	t.Run("unknown session is a 404", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/nope/events", studentToken(t, "stud-1"))
		app.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("stream opens with SSE headers", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/events", studentToken(t, "stud-1"))
		ctx, cancel := context.WithCancel(req.Context())
		cancel() // close the stream as soon as it opens
		app.server.ServeHTTP(rec, req.WithContext(ctx))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	})
}
