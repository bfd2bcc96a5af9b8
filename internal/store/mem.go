// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// errDropped is returned by [MemStore.Set] when the cache refused the value.
var errDropped = errors.New("store: value dropped by cache")

// MemStore is an in-memory implementation of the [Store] interface. Values are
// evicted when more than maxItems keys are stored.
type MemStore struct {
	cache *ristretto.Cache[string, []byte]
}

// NewMemStore creates a new MemStore holding at most maxItems keys.
func NewMemStore(maxItems int64) (*MemStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &MemStore{cache: cache}, nil
}

// Get retrieves a value for a given key.
func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	// Return a copy to prevent the caller from mutating the cache.
	return append([]byte(nil), val...), nil
}

// Set stores a value for a given key. The value is visible to Get as soon as
// Set returns.
func (s *MemStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	// Store a copy to prevent the caller from mutating the cache.
	valueCopy := append([]byte(nil), value...)
	if !s.cache.SetWithTTL(key, valueCopy, 1, ttl) {
		return errDropped
	}
	s.cache.Wait()
	return nil
}

// Delete removes a key.
func (s *MemStore) Delete(_ context.Context, key string) error {
	s.cache.Del(key)
	return nil
}

// Close stops the cache goroutines.
func (s *MemStore) Close() error {
	s.cache.Close()
	return nil
}

var _ Store = (*MemStore)(nil)
