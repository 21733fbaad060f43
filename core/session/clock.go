package session

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/mahudhurio/core"
)

// Countdown tracks the time remaining until a fixed deadline at 1-second
// resolution. Remaining is always recomputed from the wall clock, never
// decremented, so a suspended process resumes with the correct value
// instead of a drifted one.
type Countdown struct {
	deadline time.Time
	interval time.Duration
	onExpire func()
	nowFunc  func() time.Time
	once     sync.Once
}

func NewCountdown(deadline time.Time, onExpire func(), now ...func() time.Time) *Countdown {
	nowFunc := time.Now
	if len(now) > 0 {
		nowFunc = now[0]
	}
	return &Countdown{
		deadline: deadline,
		interval: time.Second,
		onExpire: onExpire,
		nowFunc:  nowFunc,
	}
}

func (c *Countdown) Remaining() time.Duration {
	if rem := c.deadline.Sub(c.nowFunc()); rem > 0 {
		return rem
	}
	return 0
}

// Run ticks until the deadline passes or ctx is canceled; the ticker is
// released either way. The expiry callback fires at most once, across
// however many Run calls observe the deadline.
func (c *Countdown) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if c.Remaining() == 0 {
			c.expire()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Countdown) expire() {
	c.once.Do(func() {
		if c.onExpire != nil {
			c.onExpire()
		}
	})
}

// Watcher ends a session when the local clock reaches its stored end time.
// Every observing client runs its own watcher independently; duplicate end
// signals are harmless since ending is idempotent at the store.
type Watcher struct {
	svc    *Service
	sess   Session
	logger core.Logger
	cd     *Countdown
}

func NewWatcher(svc *Service, sess Session, logger core.Logger, now ...func() time.Time) *Watcher {
	w := &Watcher{svc: svc, sess: sess, logger: logger}
	w.cd = NewCountdown(sess.EndsAt, w.end, now...)
	return w
}

func (w *Watcher) Remaining() time.Duration { return w.cd.Remaining() }

func (w *Watcher) Run(ctx context.Context) { w.cd.Run(ctx) }

func (w *Watcher) end() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := w.svc.End(ctx, w.sess.ID, ""); err != nil {
		w.logger.Error("ending expired session "+w.sess.ID, err)
	}
}
