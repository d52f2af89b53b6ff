// Package memory implements the ability to read and write the ledger snapshot
// to memory. It is used by tests and by nodes that don't need to survive a
// restart.
package memory

import (
	"encoding/json"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// Memory represents the serialization implementation for reading and storing
// the snapshot in memory. This implements the database.Storage interface.
type Memory struct {
	mu      sync.RWMutex
	current []byte
	backups [][]byte
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{}
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// Save stores the snapshot and keeps the prior snapshot as a backup.
func (m *Memory) Save(snapshot database.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.backups = append(m.backups, m.current)
	}
	m.current = data

	return nil
}

// Load returns the most recently saved snapshot.
func (m *Memory) Load() (database.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return database.Snapshot{}, database.ErrNoSnapshot
	}

	var snapshot database.Snapshot
	if err := json.Unmarshal(m.current, &snapshot); err != nil {
		return database.Snapshot{}, err
	}

	return snapshot, nil
}

// Backups returns the number of prior snapshots being retained.
func (m *Memory) Backups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.backups)
}
