package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Keys under which the identity is persisted.
var (
	keyEmail = []byte("userEmail")
	keyName  = []byte("userName")
)

// Store persists the identity in a local LevelDB so it survives restarts.
type Store struct {
	logger *slog.Logger

	mu     sync.Mutex
	db     *leveldb.DB
	closed bool
}

// OpenStore opens (or creates) the store at path.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: open store %s: %w", path, err)
	}
	return newStore(db, logger), nil
}

// OpenMemoryStore opens a store that lives only in memory.
func OpenMemoryStore(logger *slog.Logger) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("identity: open memory store: %w", err)
	}
	return newStore(db, logger), nil
}

func newStore(db *leveldb.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "identity"),
	}
}

// Load returns the saved identity. A store with nothing saved returns the
// zero Identity and no error.
func (s *Store) Load() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Identity{}, ErrClosed
	}

	email, err := s.get(keyEmail)
	if err != nil {
		return Identity{}, err
	}
	name, err := s.get(keyName)
	if err != nil {
		return Identity{}, err
	}

	return Identity{Email: email, Name: name}, nil
}

func (s *Store) get(key []byte) (string, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("identity: read %s: %w", key, err)
	}
	return string(v), nil
}

// Save replaces the stored identity atomically. Empty fields are removed.
func (s *Store) Save(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	batch := new(leveldb.Batch)
	putOrDelete(batch, keyEmail, id.Email)
	putOrDelete(batch, keyName, id.Name)

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("identity: save: %w", err)
	}

	s.logger.Debug("identity saved", "email", id.Email)
	return nil
}

func putOrDelete(batch *leveldb.Batch, key []byte, value string) {
	if value == "" {
		batch.Delete(key)
		return
	}
	batch.Put(key, []byte(value))
}

// Clear forgets the stored identity.
func (s *Store) Clear() error {
	return s.Save(Identity{})
}

// Close closes the underlying database. It is safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
