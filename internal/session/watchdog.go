package session

import (
	"sync"
	"time"
)

// Watchdog fires onExpire once no Reset has happened for the armed timeout.
// After Disarm a pending expiry is discarded even if its timer already fired.
type Watchdog struct {
	mu       sync.Mutex
	timeout  time.Duration
	timer    *time.Timer
	onExpire func()
	gen      uint64
	armed    bool
}

func NewWatchdog() *Watchdog {
	return &Watchdog{}
}

// Arm starts the deadline, replacing any previous arming.
func (w *Watchdog) Arm(timeout time.Duration, onExpire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	if timeout <= 0 {
		return
	}
	w.timeout = timeout
	w.onExpire = onExpire
	w.armed = true
	w.startLocked()
}

// Reset pushes the deadline out by the armed timeout. It is a no-op when
// disarmed.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.armed {
		return
	}
	w.stopLocked()
	w.armed = true
	w.startLocked()
}

func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

func (w *Watchdog) startLocked() {
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		if !w.armed || w.gen != gen {
			w.mu.Unlock()
			return
		}
		callback := w.onExpire
		w.armed = false
		w.timer = nil
		w.mu.Unlock()

		if callback != nil {
			callback()
		}
	})
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.armed = false
	w.gen++
}
