// Package pool provides pooled time.Timer reuse for the many short
// timeout waits a DEX session performs.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer set to fire after d, taken from the pool when
// one is available. Return it with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	v := timerPool.Get()
	if v == nil {
		return time.NewTimer(d)
	}

	t, _ := v.(*time.Timer) // only *time.Timer values enter the pool
	if t.Reset(d) {
		// The timer was still active; drain a pending fire so the caller
		// does not observe a stale tick.
		select {
		case <-t.C:
		default:
		}
	}

	return t
}

// PutTimer stops t and returns it to the pool. t must not be used after
// the call.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// Drain t.C if the caller has not consumed the fire.
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}
