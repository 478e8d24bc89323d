package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"ownclock/internal/model"
)

// LocalState is what the local copy holds.
type LocalState struct {
	Config model.ConfigSnapshot `json:"config"`
	// Pending marks a save the backend never acknowledged.
	Pending bool      `json:"pending,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

// LocalCopy keeps the last known configuration on disk so the kiosk can
// start, and accept saves, while the backend is unreachable.
type LocalCopy struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewLocalCopy stores the copy at path on fs. A nil fs uses the OS
// filesystem.
func NewLocalCopy(fs afero.Fs, path string) *LocalCopy {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &LocalCopy{fs: fs, path: path}
}

// Load reads the copy. A missing file yields an error matching
// os.ErrNotExist.
func (l *LocalCopy) Load() (LocalState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var st LocalState
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return LocalState{}, fmt.Errorf("watch: local copy %s: %w", l.path, err)
	}
	st.Config = st.Config.WithDefaults()
	return st, nil
}

// Store replaces the copy. The file is written next to its final path and
// renamed into place.
func (l *LocalCopy) Store(s model.ConfigSnapshot, pending bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return errors.New("watch: local copy path is empty")
	}
	data, err := json.MarshalIndent(LocalState{
		Config:  s.WithDefaults(),
		Pending: pending,
		SavedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}

	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, data, 0o600); err != nil {
		return err
	}
	if err := l.fs.Rename(tmp, l.path); err != nil {
		_ = l.fs.Remove(tmp)
		return err
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
