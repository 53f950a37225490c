package broadcast

import (
	"sync/atomic"
	"time"
)

// atomicTime is a small wrapper for lock-free last-seen timestamp updates,
// read by the ping loop goroutine and written by the connection's read loop.
type atomicTime struct {
	v atomic.Value
}

func (a *atomicTime) Store(t time.Time) { a.v.Store(t) }

func (a *atomicTime) Load() time.Time {
	v := a.v.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}
