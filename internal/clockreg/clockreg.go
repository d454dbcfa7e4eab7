// Package clockreg holds the single process-wide clock-skew correction
// the Clock Synchronizer publishes and any caller of SynchronizedNow
// reads. It is an atomic signed 64-bit nanosecond value: the
// synchronizer does a plain store at the end of each exchange round,
// readers do a plain load — no lock is needed beyond that.
package clockreg

import (
	"sync/atomic"
	"time"
)

// Register is the process-wide clock-skew correction register.
type Register struct {
	nanos atomic.Int64
}

// Store publishes a new correction.
func (r *Register) Store(skew time.Duration) {
	r.nanos.Store(int64(skew))
}

// Load returns the currently published correction.
func (r *Register) Load() time.Duration {
	return time.Duration(r.nanos.Load())
}
