package arduino

import "sync"

// Arbiter serializes command/response exchanges on one physical port. Every
// device talking over the same port must share the same Arbiter.
type Arbiter struct {
	mu sync.Mutex
}

func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// Do runs fn while holding the port.
func (a *Arbiter) Do(fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn()
}
