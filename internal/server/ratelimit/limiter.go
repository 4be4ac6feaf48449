// Package ratelimit implements a per-process fixed-window attempt counter.
//
// Windows are 60 seconds aligned to the Unix epoch. Each key owns an
// immutable window value swapped with compare-and-swap, so updates to one
// key never block updates to another.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// WindowSeconds is the fixed window length.
const WindowSeconds = 60

// Decision is the outcome of one attempt.
type Decision struct {
	Allowed bool
	// RetryAfterSeconds is the time left in the current window, in [1, 60].
	RetryAfterSeconds int
}

type window struct {
	index int64
	count int
}

type cell struct {
	p atomic.Pointer[window]
}

// Limiter counts attempts per action:identity key.
type Limiter struct {
	now     func() time.Time
	windows sync.Map // string -> *cell

	// SweepInterval controls how often Run drops stale windows.
	SweepInterval time.Duration
}

func New(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{now: now, SweepInterval: time.Minute}
}

// Key joins an action and a client identity.
func Key(action, identity string) string {
	return action + ":" + identity
}

// Allow records one attempt for (action, identity) and reports whether it
// fits in limitPerMinute. The stored count stops growing at limit+1.
func (l *Limiter) Allow(action, identity string, limitPerMinute int) Decision {
	unix := l.now().Unix()
	idx := unix / WindowSeconds
	d := Decision{RetryAfterSeconds: int(WindowSeconds - unix%WindowSeconds)}

	v, _ := l.windows.LoadOrStore(Key(action, identity), &cell{})
	c := v.(*cell)

	for {
		cur := c.p.Load()

		var next *window
		switch {
		case cur == nil || cur.index != idx:
			next = &window{index: idx, count: 1}
		case cur.count > limitPerMinute:
			d.Allowed = false
			return d
		default:
			next = &window{index: idx, count: cur.count + 1}
		}

		if c.p.CompareAndSwap(cur, next) {
			d.Allowed = next.count <= limitPerMinute
			return d
		}
	}
}

// Count returns the recorded attempts in the current window for a key.
func (l *Limiter) Count(action, identity string) int {
	v, ok := l.windows.Load(Key(action, identity))
	if !ok {
		return 0
	}
	w := v.(*cell).p.Load()
	if w == nil || w.index != l.now().Unix()/WindowSeconds {
		return 0
	}
	return w.count
}

// Sweep removes windows older than the current one and returns how many
// keys were dropped.
func (l *Limiter) Sweep() int {
	idx := l.now().Unix() / WindowSeconds
	n := 0
	l.windows.Range(func(k, v any) bool {
		c := v.(*cell)
		if w := c.p.Load(); w == nil || w.index < idx {
			// A concurrent Allow may have stored a fresh window between the
			// check and the delete; losing it only resets that key early.
			l.windows.CompareAndDelete(k, c)
			n++
		}
		return true
	})
	return n
}

// Run sweeps stale windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	interval := l.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}
