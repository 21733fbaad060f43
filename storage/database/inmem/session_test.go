package inmemdb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core/session"
	"github.com/trezcool/mahudhurio/realtime"
)

// Session events must not carry the scannable code; only students who can
// see the lecturer's display should ever hold it.
func Test_sessionRepository_eventsOmitCode(t *testing.T) {
	db, err := Open()
	require.NoError(t, err)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	sub, err := db.Feed().Subscribe(ctx, realtime.Scope{SessionID: "sess-1"})
	require.NoError(t, err)
	defer sub.Close()

	now := time.Now().UTC()
	sess := session.Session{
		ID:         "sess-1",
		ClassID:    "phy-101",
		LecturerID: "lect-1",
		Code:       "top-secret",
		StartedAt:  now,
		EndsAt:     now.Add(time.Hour),
	}

	nextPayload := func() session.Session {
		select {
		case event := <-sub.Events():
			var got session.Session
			require.NoError(t, json.Unmarshal(event.Payload, &got))
			return got
		case <-time.After(time.Second):
			t.Fatal("no event received")
			return session.Session{}
		}
	}

	_, err = repo.CreateSession(ctx, sess)
	require.NoError(t, err)
	created := nextPayload()
	assert.Equal(t, "sess-1", created.ID)
	assert.Empty(t, created.Code)

	_, err = repo.EndSession(ctx, "sess-1", now.Add(time.Minute))
	require.NoError(t, err)
	ended := nextPayload()
	assert.True(t, ended.Ended)
	assert.Empty(t, ended.Code)

	// the stored row keeps the code
	stored, err := repo.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "top-secret", stored.Code)
}
