package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// GetTime reads a timestamp written by SetTime. Expired keys are not found.
func (s *Store) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err //nolint:wrapcheck
	}
	var value time.Time
	err := s.store.Badger().View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(timestampKeyRoot + key))
		if err != nil {
			return err //nolint:wrapcheck
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err //nolint:wrapcheck
		}
		return value.UnmarshalBinary(raw) //nolint:wrapcheck
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// SetTime stores a timestamp that expires after ttl.
func (s *Store) SetTime(ctx context.Context, key string, value time.Time, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	raw, err := value.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = s.store.Badger().Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(timestampKeyRoot+key), raw)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
