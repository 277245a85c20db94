// internal/tunnel/state.go
package tunnel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	apperr "sshmen/internal/error"
)

// Status is the lifecycle state of a tunnel as recorded on disk.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusStopped      Status = "stopped"
)

// Entry is one running tunnel. There is at most one per bookmark.
type Entry struct {
	Bookmark   string        `json:"bookmark"`
	Forwards   []ForwardSpec `json:"forwards"`
	Persistent bool          `json:"persistent"`
	PID        int           `json:"pid"`
	StartedAt  time.Time     `json:"started_at"`
	Reconnects int           `json:"reconnects"`
	Status     Status        `json:"status"`
}

// State is the whole tunnel state file.
type State struct {
	Tunnels []Entry `json:"tunnels"`
}

// StateStore reads and rewrites the tunnel state file. Every mutation is a
// full load, modify and atomic replace under one mutex. Separate processes
// race at file granularity; the last writer wins.
type StateStore struct {
	path  string
	alive func(pid int) bool

	mu sync.Mutex
}

// NewStateStore returns a store for path. A nil alive func uses ProcessAlive.
func NewStateStore(path string, alive func(pid int) bool) *StateStore {
	if alive == nil {
		alive = ProcessAlive
	}
	return &StateStore{path: path, alive: alive}
}

func (s *StateStore) Path() string {
	return s.path
}

// Load reads the state file. A missing file is an empty state.
func (s *StateStore) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Register records e, replacing any entry for the same bookmark.
func (s *StateStore) Register(e Entry) error {
	return s.mutate(func(st *State) {
		st.Tunnels = without(st.Tunnels, e.Bookmark)
		st.Tunnels = append(st.Tunnels, e)
	})
}

// Update applies fn to the entry for bookmark. It is a no-op when the entry
// is gone.
func (s *StateStore) Update(bookmark string, fn func(e *Entry)) error {
	return s.mutate(func(st *State) {
		for i := range st.Tunnels {
			if st.Tunnels[i].Bookmark == bookmark {
				fn(&st.Tunnels[i])
				return
			}
		}
	})
}

// Remove drops the entry for bookmark.
func (s *StateStore) Remove(bookmark string) error {
	return s.mutate(func(st *State) {
		st.Tunnels = without(st.Tunnels, bookmark)
	})
}

// PurgeStale drops entries whose owning process is gone and returns what is
// left, sorted by bookmark.
func (s *StateStore) PurgeStale() ([]Entry, error) {
	var live []Entry
	err := s.mutate(func(st *State) {
		kept := st.Tunnels[:0]
		for _, e := range st.Tunnels {
			if s.alive(e.PID) {
				kept = append(kept, e)
			}
		}
		st.Tunnels = kept
		live = append(live, kept...)
	})
	sort.Slice(live, func(i, j int) bool { return live[i].Bookmark < live[j].Bookmark })
	return live, err
}

// Find returns the live entry for bookmark, if any.
func (s *StateStore) Find(bookmark string) (Entry, bool, error) {
	entries, err := s.PurgeStale()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Bookmark == bookmark {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

func (s *StateStore) mutate(fn func(st *State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	fn(st)
	return s.save(st)
}

func (s *StateStore) load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{}, nil
		}
		return nil, apperr.New(apperr.PersistenceError, "failed to read tunnel state", err)
	}

	var st State
	if len(data) == 0 {
		return &st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, apperr.New(apperr.PersistenceError, fmt.Sprintf("failed to parse tunnel state %s", s.path), err)
	}
	return &st, nil
}

// save writes a temp file next to the target, syncs it, tightens its mode
// and renames it into place.
func (s *StateStore) save(st *State) error {
	if st.Tunnels == nil {
		st.Tunnels = []Entry{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return apperr.New(apperr.PersistenceError, "failed to encode tunnel state", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apperr.New(apperr.PersistenceError, "failed to create state directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return apperr.New(apperr.PersistenceError, "failed to create temp state file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return apperr.New(apperr.PersistenceError, "failed to write tunnel state", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.New(apperr.PersistenceError, "failed to sync tunnel state", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.New(apperr.PersistenceError, "failed to close tunnel state", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return apperr.New(apperr.PersistenceError, "failed to set tunnel state permissions", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return apperr.New(apperr.PersistenceError, "failed to replace tunnel state", err)
	}
	return nil
}

func without(entries []Entry, bookmark string) []Entry {
	out := entries[:0]
	for _, e := range entries {
		if e.Bookmark != bookmark {
			out = append(out, e)
		}
	}
	return out
}
