package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCorruptHistory indicates the history file exists but cannot be parsed.
var ErrCorruptHistory = errors.New("storage: history record is corrupt")

// HistoryStore persists the rolling sample history.
type HistoryStore interface {
	Load(ctx context.Context) (History, error)
	Peek(ctx context.Context) (History, error)
	Save(ctx context.Context, history History) error
	Update(ctx context.Context, fn func(History) (History, error)) error
}

// FileStore keeps history in a single JSON file. All access is serialised.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the persisted history, creating an empty record on first use.
func (s *FileStore) Load(ctx context.Context) (History, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Peek reads the persisted history without creating it. A missing record reads as empty.
func (s *FileStore) Peek(ctx context.Context) (History, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return decodeHistory(payload)
}

// Save atomically replaces the persisted history.
func (s *FileStore) Save(ctx context.Context, history History) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(history)
}

// Update runs load, fn and save as one critical section. If fn fails nothing is written.
func (s *FileStore) Update(ctx context.Context, fn func(History) (History, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.save(next)
}

func (s *FileStore) load() (History, error) {
	payload, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.save(History{}); err != nil {
			return nil, fmt.Errorf("initialise history: %w", err)
		}
		return History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return decodeHistory(payload)
}

func (s *FileStore) save(history History) error {
	payload, err := encodeHistory(history)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp history: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp history: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp history: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	committed = true
	return nil
}

type historyRecord struct {
	History []historyEntry `json:"history"`
}

// historyDocument is the decode side of historyRecord; a nil History means the key was absent or null.
type historyDocument struct {
	History *[]historyEntry `json:"history"`
}

type historyEntry struct {
	Time string      `json:"time"`
	Gwei json.Number `json:"gwei"`
}

func encodeHistory(history History) ([]byte, error) {
	rec := historyRecord{History: make([]historyEntry, 0, len(history))}
	for _, sample := range history {
		rec.History = append(rec.History, historyEntry{
			Time: sample.Time.UTC().Format(TimeLayout),
			Gwei: json.Number(sample.Gwei.Round(GweiPlaces).String()),
		})
	}
	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return payload, nil
}

func decodeHistory(payload []byte) (History, error) {
	var doc historyDocument
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHistory, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after record", ErrCorruptHistory)
	}
	if doc.History == nil {
		return nil, fmt.Errorf("%w: missing history array", ErrCorruptHistory)
	}

	entries := *doc.History
	history := make(History, 0, len(entries))
	for i, entry := range entries {
		at, err := time.Parse(time.RFC3339Nano, entry.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d time: %v", ErrCorruptHistory, i, err)
		}
		gwei, err := decimal.NewFromString(entry.Gwei.String())
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d gwei: %v", ErrCorruptHistory, i, err)
		}
		history = append(history, Sample{Time: at.UTC(), Gwei: gwei})
	}
	return history, nil
}

var _ HistoryStore = (*FileStore)(nil)
