package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skycoin/ptp/pkg/util/pathutil"
)

// Store kinds accepted by NewStore.
const (
	NoneStore   = "none"
	MemoryStore = "memory"
	FileStore   = "file"
	BoltStore   = "bbolt"
)

// ErrNotFound is returned when no entry is stored under the requested ID.
var ErrNotFound = errors.New("connection entry not found")

// Outcome is how a connection ended.
type Outcome string

// Outcomes.
const (
	Completed = Outcome("completed")
	Aborted   = Outcome("aborted")
)

// Entry is the persisted record of one finished connection.
type Entry struct {
	ID       uuid.UUID `json:"id"`
	Role     Role      `json:"role"`
	Outcome  Outcome   `json:"outcome"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Counters Counters  `json:"counters"`
}

// Store stores connection entries.
type Store interface {
	Entry(id uuid.UUID) (*Entry, error)
	Record(id uuid.UUID, entry *Entry) error
	Close() error
}

// NewStore returns a Store of the given kind. path is a directory for the
// file store and a database file for the bbolt store; '~' is expanded.
// The "none" kind returns a nil Store.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case NoneStore, "":
		return nil, nil
	case MemoryStore:
		return InMemoryStore(), nil
	}

	path, err := pathutil.Expand(path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case FileStore:
		return FileEntryStore(path)
	case BoltStore:
		return BoltDBStore(path)
	default:
		return nil, fmt.Errorf("no Store of type %s", kind)
	}
}

type inMemoryStore struct {
	entries map[uuid.UUID]*Entry
	mu      sync.Mutex
}

// InMemoryStore implements an in-memory Store.
func InMemoryStore() Store {
	return &inMemoryStore{
		entries: map[uuid.UUID]*Entry{},
	}
}

func (s *inMemoryStore) Entry(id uuid.UUID) (*Entry, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *inMemoryStore) Record(id uuid.UUID, entry *Entry) error {
	s.mu.Lock()
	s.entries[id] = entry
	s.mu.Unlock()
	return nil
}

func (s *inMemoryStore) Close() error { return nil }

type fileStore struct {
	dir string
}

// FileEntryStore implements a Store keeping one JSON file per connection in dir.
func FileEntryStore(dir string) (Store, error) {
	dir, err := pathutil.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &fileStore{dir}, nil
}

func (s *fileStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", id))
}

func (s *fileStore) Entry(id uuid.UUID) (*Entry, error) {
	f, err := os.Open(s.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close() // nolint: errcheck

	entry := &Entry{}
	if err := json.NewDecoder(f).Decode(entry); err != nil {
		return nil, errors.Wrap(err, "json")
	}

	return entry, nil
}

func (s *fileStore) Record(id uuid.UUID, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "json")
	}
	return errors.Wrap(pathutil.AtomicWriteFile(s.path(id), raw), "write")
}

func (s *fileStore) Close() error { return nil }
