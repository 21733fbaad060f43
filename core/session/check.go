package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/geo"
)

// PromptState is a student client's position in the presence-check flow.
type PromptState int

const (
	StateIdle PromptState = iota
	StatePrompt
	StateVerifying
	StateVerified
)

func (s PromptState) String() string {
	switch s {
	case StatePrompt:
		return "prompt"
	case StateVerifying:
		return "verifying"
	case StateVerified:
		return "verified"
	}
	return "idle"
}

// CheckPrompt drives one student client through a presence check:
//
//	idle -> prompt (new check observed)
//	     -> verifying -> verified (terminal for this check)
//	     -> prompt (failed validation, retry until the window lapses)
//	     -> idle ("missed", window lapsed without success)
//
// The countdown is derived from the check's stored expiry against this
// client's own wall clock, independent of the initiating device. The
// "missed" signal is informational only; the response table remains the
// source of truth for the tally.
type CheckPrompt struct {
	svc       *Service
	check     Check
	studentID string
	nowFunc   func() time.Time

	mu     sync.Mutex
	state  PromptState
	missed bool
}

func NewCheckPrompt(svc *Service, chk Check, studentID string, now ...func() time.Time) *CheckPrompt {
	nowFunc := time.Now
	if len(now) > 0 {
		nowFunc = now[0]
	}
	return &CheckPrompt{
		svc:       svc,
		check:     chk,
		studentID: studentID,
		nowFunc:   nowFunc,
		state:     StatePrompt,
	}
}

func (p *CheckPrompt) State() PromptState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *CheckPrompt) Missed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.missed
}

func (p *CheckPrompt) Remaining() time.Duration {
	return p.check.Remaining(p.nowFunc())
}

// Tick lapses the prompt once the window has passed without a successful
// confirmation. Call it from the client's 1-second clock.
func (p *CheckPrompt) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePrompt && !p.check.Active(p.nowFunc()) {
		p.state = StateIdle
		p.missed = true
	}
}

// Confirm submits the acknowledgment. On a failed location validation the
// prompt stays open for retry; on expiry it lapses to idle with the missed
// signal; an already-recorded response counts as verified.
func (p *CheckPrompt) Confirm(ctx context.Context, loc *geo.Point) error {
	p.mu.Lock()
	if p.state != StatePrompt {
		state := p.state
		p.mu.Unlock()
		return errors.Errorf("cannot confirm from %q state", state)
	}
	p.state = StateVerifying
	p.mu.Unlock()

	_, err := p.svc.RespondToCheck(ctx, CheckResponseInput{
		CheckID:   p.check.ID,
		StudentID: p.studentID,
		Location:  loc,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	switch errors.Cause(err) {
	case nil, ErrDuplicateResponse:
		p.state = StateVerified
		return nil
	case ErrCheckExpired:
		p.state = StateIdle
		p.missed = true
		return err
	default:
		// out of range or transport failure: retry until the window lapses
		p.state = StatePrompt
		return err
	}
}

// Reset returns a verified prompt to idle, after the client's short
// display delay.
func (p *CheckPrompt) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateVerified {
		p.state = StateIdle
	}
}
