package promoter

import "sync"

// envLocks enforces at-most-one in-flight deployment per environment.
// The lock is keyed by environment name so acceptance, QA and production
// runs proceed concurrently while two runs against the same host never
// interleave.
type envLocks struct {
	mu   sync.Mutex
	busy map[string]bool
}

func newEnvLocks() *envLocks {
	return &envLocks{busy: make(map[string]bool)}
}

// TryAcquire claims the environment's workload slot. It never blocks: a
// second caller for a busy environment is rejected, not queued.
func (l *envLocks) TryAcquire(env string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[env] {
		return false
	}
	l.busy[env] = true
	return true
}

// Release frees the environment's workload slot.
func (l *envLocks) Release(env string) {
	l.mu.Lock()
	delete(l.busy, env)
	l.mu.Unlock()
}
