package upgrade

import "sync"

// lockRegistry tracks in-flight upgrade/claim operations per user within
// this process. Acquisition is non-blocking: a second operation for the
// same user is rejected, never queued. Cross-instance serialization is
// handled by row-level locks inside the store's upgrade transaction; this
// registry exists to fail fast before any work is done.
type lockRegistry struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{inFlight: make(map[string]struct{})}
}

// acquire reserves the user's slot, reporting false if an operation is
// already in flight.
func (r *lockRegistry) acquire(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.inFlight[userID]; held {
		return false
	}
	r.inFlight[userID] = struct{}{}
	return true
}

func (r *lockRegistry) release(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, userID)
}
