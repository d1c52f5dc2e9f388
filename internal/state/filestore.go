// Package state persists the controller's position state as a small JSON
// document on local disk. The file is the source of truth across restarts;
// writes are atomic so a crash mid-save never leaves a torn document.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// FileStore implements domain.StateStore on top of a single JSON file.
type FileStore struct {
	path   string
	logger *slog.Logger
}

var _ domain.StateStore = (*FileStore)(nil)

// NewFileStore returns a store reading and writing the state document at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With(slog.String("component", "statestore")),
	}
}

// Load reads the persisted state. A missing file or a malformed document
// yields the default (flat) state and no error; the malformed case is logged
// and the broken file is preserved under a .corrupt suffix for inspection.
// Unreadable files (permissions, I/O) return an error and should abort start.
func (s *FileStore) Load() (domain.ControllerState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no prior state file, starting flat", slog.String("path", s.path))
		return domain.NewControllerState(decimal.Zero), nil
	}
	if err != nil {
		return domain.ControllerState{}, fmt.Errorf("state: read %s: %w", s.path, err)
	}

	var st domain.ControllerState
	if err := json.Unmarshal(data, &st); err != nil {
		corrupt := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, corrupt); renameErr == nil {
			s.logger.Warn("state file malformed, starting flat",
				slog.String("path", s.path),
				slog.String("preserved", corrupt),
				slog.String("error", err.Error()))
		} else {
			s.logger.Warn("state file malformed and could not be preserved, starting flat",
				slog.String("path", s.path),
				slog.String("error", err.Error()))
		}
		return domain.NewControllerState(decimal.Zero), nil
	}

	if st.LastAction == "" {
		st.LastAction = domain.ActionNone
	}
	return st, nil
}

// Save writes the state atomically: marshal to a temp file in the same
// directory, fsync, then rename over the target.
func (s *FileStore) Save(st domain.ControllerState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("state: rename %s: %w", s.path, err)
	}
	return nil
}
