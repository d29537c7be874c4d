// Package statefile persists the session-key to workflow-ID mapping
// across process restarts, tolerating a missing file, corrupt JSON, and
// mkdir/write failures — all non-fatal.
package statefile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/duo-workflow-bridge/bridge/pkg/bridgelog"
)

// Key identifies a session for persistence purposes.
type Key struct {
	InstanceURL   string `json:"instanceUrl"`
	ModelID       string `json:"modelId"`
	HostSessionID string `json:"hostSessionId"`
}

func (k Key) String() string {
	return k.InstanceURL + "|" + k.ModelID + "|" + k.HostSessionID
}

// Store is a JSON-file-backed map from session key to workflow ID.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a Store backed by the file at path. The file is not
// touched until Get or Set is called.
func New(path string) *Store {
	return &Store{path: path}
}

// Get returns the persisted workflow ID for key, if any. Any read or
// parse failure is treated as "not found"; read failures are logged at
// debug level, corrupt JSON is not logged.
func (s *Store) Get(ctx context.Context, key Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		bridgelog.Debug(ctx, "state file unreadable, treating as empty", "error", err)
		return "", false
	}
	id, ok := records[key.String()]
	return id, ok
}

// Set persists the workflow ID for key. Failures (missing parent
// directory that cannot be created, unwritable file) are logged and
// swallowed; the session proceeds without persistence.
func (s *Store) Set(ctx context.Context, key Key, workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		records = map[string]string{}
	}
	records[key.String()] = workflowID

	if err := s.save(records); err != nil {
		bridgelog.Warn(ctx, "failed to persist workflow id", "error", err)
	}
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var records map[string]string
	if err := json.Unmarshal(data, &records); err != nil {
		return map[string]string{}, nil
	}
	return records, nil
}

func (s *Store) save(records map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
