package store

import "sync"

// OwnedGuard is a held per-key lock; Release must be called exactly once.
type OwnedGuard struct {
	mu *sync.Mutex
}

// Release unlocks the per-key mutex this guard holds.
func (g OwnedGuard) Release() { g.mu.Unlock() }

// KeyedMutex implements per-id mutual exclusion: AcquireOwnedGuard looks up
// (or creates) a per-key mutex under a coarse
// lock, clones a shared handle, releases the coarse lock, then blocks to
// acquire the fine-grained lock. Used by the HLS orchestrator to serialize
// concurrent ensure_hls calls for the same media id without serializing
// unrelated media ids.
type KeyedMutex struct {
	coarse sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex returns an empty KeyedMutex ready for use.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// AcquireOwnedGuard blocks until the per-key lock for key is held, then
// returns a Guard the caller must Release.
func (k *KeyedMutex) AcquireOwnedGuard(key string) OwnedGuard {
	k.coarse.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.coarse.Unlock()

	m.Lock()
	return OwnedGuard{mu: m}
}
