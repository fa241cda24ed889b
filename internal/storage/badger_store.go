// internal/storage/badger_store.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Entity represents any storable entity with an ID
type Entity interface {
	GetID() string
}

// BadgerStore keeps JSON-encoded entities of one kind under
// "<prefix>:<id>" keys. Several stores may share a database as long as
// their prefixes differ.
type BadgerStore[T Entity] struct {
	db     *badger.DB
	prefix []byte
}

func NewBadgerStore[T Entity](db *badger.DB, prefix string) *BadgerStore[T] {
	return &BadgerStore[T]{
		db:     db,
		prefix: []byte(prefix + ":"),
	}
}

func (s *BadgerStore[T]) key(id string) []byte {
	return append(append([]byte(nil), s.prefix...), id...)
}

// PutIfAbsent stores the entity unless its ID already exists. It reports
// whether the entity was written.
func (s *BadgerStore[T]) PutIfAbsent(entity T) (bool, error) {
	id := entity.GetID()
	if id == "" {
		return false, fmt.Errorf("entity ID cannot be empty")
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return false, fmt.Errorf("marshaling entity %s: %w", id, err)
	}

	written := false
	err = s.db.Update(func(txn *badger.Txn) error {
		switch _, err := txn.Get(s.key(id)); {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		written = true
		return txn.Set(s.key(id), data)
	})
	if err != nil {
		return false, fmt.Errorf("storing entity %s: %w", id, err)
	}
	return written, nil
}

func (s *BadgerStore[T]) Has(id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.key(id))
		return err
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Each decodes every stored entity in key order and passes it to fn.
// Iteration stops at the first error.
func (s *BadgerStore[T]) Each(fn func(T) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			var entity T
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entity)
			})
			if err != nil {
				return err
			}
			if err := fn(entity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("iterating entities under %q: %w", s.prefix, err)
	}
	return nil
}
