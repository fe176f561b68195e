package recon

import "sync"

// Keyed is an in-process try-lock arena keyed by department id. It backs the
// single-flight guarantee inside one process; the database advisory lock
// extends the same guarantee across processes.
type Keyed struct {
    mu   sync.Mutex
    held map[string]struct{}
}

func NewKeyed() *Keyed { return &Keyed{held: map[string]struct{}{}} }

// TryLock acquires key without blocking; false means a pass already holds it.
func (k *Keyed) TryLock(key string) bool {
    k.mu.Lock()
    defer k.mu.Unlock()
    if _, busy := k.held[key]; busy { return false }
    k.held[key] = struct{}{}
    return true
}

func (k *Keyed) Unlock(key string) {
    k.mu.Lock()
    defer k.mu.Unlock()
    delete(k.held, key)
}
