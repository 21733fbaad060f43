package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mahudhurio/core/geo"
	"github.com/trezcool/mahudhurio/core/session"
)

func Test_CheckPrompt_flow(t *testing.T) {
	svc, _, _, clock := setup(t)
	ctx := context.Background()
	sess := startSession(t, svc, nil)

	chk, err := svc.TriggerCheck(ctx, sess.ID, "lect-1")
	assert.NoError(t, err)

	prompt := session.NewCheckPrompt(svc, chk, "stud-1", clock.Now)
	assert.Equal(t, session.StatePrompt, prompt.State())
	assert.Equal(t, 60*time.Second, prompt.Remaining())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 50*time.Second, prompt.Remaining())

	assert.NoError(t, prompt.Confirm(ctx, nil))
	assert.Equal(t, session.StateVerified, prompt.State())
	assert.False(t, prompt.Missed())

	// ticking a verified prompt never flips it to missed
	clock.Advance(2 * time.Minute)
	prompt.Tick()
	assert.Equal(t, session.StateVerified, prompt.State())
	assert.False(t, prompt.Missed())

	// confirm is terminal for this check
	err = prompt.Confirm(ctx, nil)
	assert.EqualError(t, err, `cannot confirm from "verified" state`)

	prompt.Reset()
	assert.Equal(t, session.StateIdle, prompt.State())
}

func Test_CheckPrompt_retry(t *testing.T) {
	svc, _, _, clock := setup(t)
	ctx := context.Background()
	sess := startSession(t, svc, &geo.Fence{Center: campus, Radius: 100})

	chk, err := svc.TriggerCheck(ctx, sess.ID, "lect-1")
	assert.NoError(t, err)

	prompt := session.NewCheckPrompt(svc, chk, "stud-1", clock.Now)

	// failed validation keeps the prompt open for retry
	err = prompt.Confirm(ctx, &at200m)
	assert.Error(t, err)
	assert.Equal(t, session.StatePrompt, prompt.State())
	assert.False(t, prompt.Missed())

	assert.NoError(t, prompt.Confirm(ctx, &campus))
	assert.Equal(t, session.StateVerified, prompt.State())
}

func Test_CheckPrompt_missed(t *testing.T) {
	svc, _, _, clock := setup(t)
	ctx := context.Background()
	sess := startSession(t, svc, nil)

	chk, err := svc.TriggerCheck(ctx, sess.ID, "lect-1")
	assert.NoError(t, err)

	prompt := session.NewCheckPrompt(svc, chk, "stud-1", clock.Now)

	clock.Advance(2 * time.Minute)
	prompt.Tick()
	assert.Equal(t, session.StateIdle, prompt.State())
	assert.True(t, prompt.Missed())
}

func Test_CheckPrompt_lateConfirm(t *testing.T) {
	svc, _, _, clock := setup(t)
	ctx := context.Background()
	sess := startSession(t, svc, nil)

	chk, err := svc.TriggerCheck(ctx, sess.ID, "lect-1")
	assert.NoError(t, err)

	// a client whose own clock lags can still attempt; the store rejects
	prompt := session.NewCheckPrompt(svc, chk, "stud-1", clock.Now)
	clock.Advance(2 * time.Minute)

	err = prompt.Confirm(ctx, nil)
	assert.Equal(t, session.ErrCheckExpired, err)
	assert.Equal(t, session.StateIdle, prompt.State())
	assert.True(t, prompt.Missed())
}

func Test_CheckPrompt_duplicateCountsAsVerified(t *testing.T) {
	svc, _, _, clock := setup(t)
	ctx := context.Background()
	sess := startSession(t, svc, nil)

	chk, err := svc.TriggerCheck(ctx, sess.ID, "lect-1")
	assert.NoError(t, err)

	_, err = svc.RespondToCheck(ctx, session.CheckResponseInput{CheckID: chk.ID, StudentID: "stud-1"})
	assert.NoError(t, err)

	// a second device for the same student converges on verified
	prompt := session.NewCheckPrompt(svc, chk, "stud-1", clock.Now)
	assert.NoError(t, prompt.Confirm(ctx, nil))
	assert.Equal(t, session.StateVerified, prompt.State())
}
