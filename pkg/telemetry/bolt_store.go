package telemetry

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/skycoin/ptp/pkg/util/pathutil"
)

var boltDBBucket = []byte("connections")

type boltDBStore struct {
	db *bbolt.DB
}

// BoltDBStore implements a Store on top of BoltDB.
func BoltDBStore(path string) (Store, error) {
	if _, err := pathutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltDBBucket); err != nil {
			return fmt.Errorf("failed to create bucket: %s", err)
		}

		return nil
	})
	if err != nil {
		db.Close() // nolint: errcheck
		return nil, err
	}

	return &boltDBStore{db: db}, nil
}

func (s *boltDBStore) Entry(id uuid.UUID) (*Entry, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(boltDBBucket).Get(id[:]); v != nil {
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}

	entry := &Entry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, fmt.Errorf("json: %s", err)
	}
	return entry, nil
}

func (s *boltDBStore) Record(id uuid.UUID, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("json: %s", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltDBBucket).Put(id[:], raw)
	})
}

func (s *boltDBStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
