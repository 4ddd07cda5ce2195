// internal/watch/tracker.go

package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Tracker remembers content hashes of export files so unchanged files are not
// re-ingested across watch sessions. State persists next to the data.
type Tracker struct {
	mu        sync.RWMutex
	states    map[string]fileState
	statePath string
}

type fileState struct {
	Path     string `json:"path"`
	Hash     string `json:"hash"`
	Modified int64  `json:"modified"`
}

// NewTracker creates a tracker whose state file lives in dataDir.
func NewTracker(dataDir string) *Tracker {
	return &Tracker{
		states:    make(map[string]fileState),
		statePath: filepath.Join(dataDir, ".tablegraph_state.json"),
	}
}

// Load reads the saved state. A missing state file is not an error.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var states []fileState
	if err := json.Unmarshal(data, &states); err != nil {
		return err
	}
	for _, state := range states {
		t.states[state.Path] = state
	}
	return nil
}

// Save writes the current state to disk.
func (t *Tracker) Save() error {
	t.mu.RLock()
	states := make([]fileState, 0, len(t.states))
	for _, state := range t.states {
		states = append(states, state)
	}
	t.mu.RUnlock()

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.statePath, data, 0644)
}

// Changed reports whether the file's content differs from the last recorded
// hash. A file never seen before counts as changed. The comparison records
// nothing; call MarkLoaded once the file has actually been ingested, so a
// failed ingest is retried on the next event.
func (t *Tracker) Changed(path string) (bool, error) {
	hash, _, err := hashFile(path)
	if err != nil {
		return false, err
	}

	t.mu.RLock()
	prev, ok := t.states[path]
	t.mu.RUnlock()
	return !ok || prev.Hash != hash, nil
}

// MarkLoaded records the file's current content as successfully ingested.
func (t *Tracker) MarkLoaded(path string) error {
	hash, modified, err := hashFile(path)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.states[path] = fileState{Path: path, Hash: hash, Modified: modified}
	t.mu.Unlock()
	return nil
}

// Forget drops a deleted file from the state.
func (t *Tracker) Forget(path string) {
	t.mu.Lock()
	delete(t.states, path)
	t.mu.Unlock()
}

func hashFile(path string) (string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), info.ModTime().Unix(), nil
}
