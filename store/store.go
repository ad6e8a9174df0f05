// Package store persists a conversation's durable event log as one JSON
// array on disk. The file is replaced atomically and zstd-compressed once it
// outgrows a small threshold.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/renameio/v2"
)

var ErrCorrupt = errors.New("store: corrupt event file")

// FileStore keeps event records in memory and writes them on Save.
type FileStore struct {
	mu     sync.Mutex
	path   string
	events []json.RawMessage
	dirty  bool
	logger *slog.Logger
}

// Open loads the event file at path, creating its directory if needed. A
// missing file yields an empty store; an unreadable one yields ErrCorrupt and
// an empty store so the caller can continue from the server's history.
func Open(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{
		path:   path,
		logger: logger.With("component", "store", "path", path),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}

	plain, err := decompress(data)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal(plain, &s.events); err != nil {
		s.events = nil
		return s, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// SavedEvents returns the stored records in insertion order.
func (s *FileStore) SavedEvents() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// AddEventJSON appends one record. Invalid JSON is dropped.
func (s *FileStore) AddEventJSON(raw json.RawMessage) {
	if !json.Valid(raw) {
		s.logger.Warn("dropping invalid event json")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, append(json.RawMessage(nil), raw...))
	s.dirty = true
}

// ReplaceEvents replaces all records.
func (s *FileStore) ReplaceEvents(raws []json.RawMessage) {
	kept := make([]json.RawMessage, 0, len(raws))
	for _, raw := range raws {
		if json.Valid(raw) {
			kept = append(kept, append(json.RawMessage(nil), raw...))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = kept
	s.dirty = true
}

// Save writes the records if they changed since the last Save.
func (s *FileStore) Save() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	events := s.events
	if events == nil {
		events = []json.RawMessage{}
	}
	data, err := json.Marshal(events)
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path)
	if err != nil {
		s.markDirty()
		return fmt.Errorf("create pending event file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug("cleanup pending event file", "error", err)
		}
	}()

	if _, err := pending.Write(compress(data)); err != nil {
		s.markDirty()
		return fmt.Errorf("write event file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		s.markDirty()
		return fmt.Errorf("atomically replace event file: %w", err)
	}
	s.logger.Debug("saved events", "count", len(events), "bytes", len(data))
	return nil
}

func (s *FileStore) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}
