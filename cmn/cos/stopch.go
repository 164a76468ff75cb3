package cos

import "sync"

// StopCh is the GRACEFUL_STOP primitive of §5: a process-wide boolean with
// a wait primitive, closed exactly once, observable from any number of
// goroutines without a lock on the read path.
type StopCh struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopCh() *StopCh {
	return &StopCh{ch: make(chan struct{})}
}

// Stop signals graceful stop; idempotent.
func (s *StopCh) Stop() {
	s.once.Do(func() { close(s.ch) })
}

// Stopped reports whether Stop has been called, without blocking.
func (s *StopCh) Stopped() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Chan exposes the underlying channel for select-based sleeps, so a tick
// loop's sleep is itself a cancellation point (§5: "any ... may block;
// workers MUST treat them as cancellation points").
func (s *StopCh) Chan() <-chan struct{} { return s.ch }
