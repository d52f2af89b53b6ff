// Package disk implements the ability to read and write the ledger snapshot
// to a JSON file on disk.
package disk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// DefaultBackups is the number of prior snapshots retained when no value
// is provided.
const DefaultBackups = 5

// Disk represents the serialization implementation for reading and storing
// the snapshot in a single file on disk. Before each overwrite the prior
// snapshot is renamed to <path>.<unixnano>.bak. This implements the
// database.Storage interface.
type Disk struct {
	mu      sync.Mutex
	path    string
	backups int
}

// New constructs a Disk value for use. A backups value of zero or less
// uses DefaultBackups.
func New(path string, backups int) (*Disk, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	if backups <= 0 {
		backups = DefaultBackups
	}

	return &Disk{path: path, backups: backups}, nil
}

// Close in this implementation has nothing to do since the file is
// written and immediately closed on every save.
func (d *Disk) Close() error {
	return nil
}

// Save writes the snapshot to disk, keeping the prior snapshot as a
// timestamped backup.
func (d *Disk) Save(snapshot database.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Write to a temp file and rename it into place.
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	if _, err := os.Stat(d.path); err == nil {
		backup := fmt.Sprintf("%s.%d.bak", d.path, time.Now().UTC().UnixNano())
		if err := os.Rename(d.path, backup); err != nil {
			return fmt.Errorf("backup snapshot: %w", err)
		}
	}

	if err := os.Rename(tmp, d.path); err != nil {
		return err
	}

	return d.prune()
}

// Load reads the snapshot from disk.
func (d *Disk) Load() (database.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return database.Snapshot{}, database.ErrNoSnapshot
		}
		return database.Snapshot{}, err
	}

	var snapshot database.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return database.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	return snapshot, nil
}

// Backups returns the paths of the retained backups, oldest first.
func (d *Disk) Backups() ([]string, error) {
	matches, err := filepath.Glob(d.path + ".*.bak")
	if err != nil {
		return nil, err
	}

	// The unixnano suffix has a fixed width for the foreseeable future so
	// a lexical sort orders the backups by time.
	sort.Strings(matches)

	return matches, nil
}

// prune removes the oldest backups beyond the retention count.
func (d *Disk) prune() error {
	backups, err := d.Backups()
	if err != nil {
		return err
	}

	for len(backups) > d.backups {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		backups = backups[1:]
	}

	return nil
}
