// Package bridge maps host-minted external task identifiers to the
// harness's internal task ids. The executor registers a mapping before the
// host process ever learns the external id, so any telemetry referencing
// that id observes a registered mapping.
package bridge

import "sync"

// Bridge is the identifier-mapping table. One writer (the task executor,
// at handshake time), any number of readers (telemetry processors).
type Bridge struct {
	mu      sync.RWMutex
	mapping map[string]int64
}

// New creates an empty Bridge
func New() *Bridge {
	return &Bridge{mapping: make(map[string]int64)}
}

// Register associates an external id with an internal task id. Idempotent;
// re-registration overwrites, last write wins.
func (b *Bridge) Register(externalID string, taskID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mapping[externalID] = taskID
}

// Resolve returns the internal task id for an external id. Callers must
// treat an unresolved lookup as drop-or-buffer, never as a fatal error.
func (b *Bridge) Resolve(externalID string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.mapping[externalID]
	return id, ok
}

// Len returns the number of registered mappings
func (b *Bridge) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.mapping)
}
