// Package store is the key/value persistence behind worker records.
package store

import (
	"context"
	"io"
)

type Store interface {
	// Get returns nil without error for an unknown key.
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	/**
	 * Remove a prefix and key
	 * remove an unexists prefix + key would NOT return error
	 */
	Remove(ctx context.Context, prefix, key string) error

	// List calls iterator for every key under prefix until it returns false.
	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}

// Keys collects every key under prefix.
func Keys(ctx context.Context, s Store, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := s.List(ctx, prefix, func(key string) bool {
		keys = append(keys, key)
		return true
	})
	return keys, err
}

// Close releases s when it holds resources, e.g. a database connection.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// PrefixRemover is implemented by stores dropping a whole prefix at once.
type PrefixRemover interface {
	RemovePrefix(ctx context.Context, prefix string) error
}

// RemovePrefix drops every key under prefix.
func RemovePrefix(ctx context.Context, s Store, prefix string) error {
	if r, ok := s.(PrefixRemover); ok {
		return r.RemovePrefix(ctx, prefix)
	}
	keys, err := Keys(ctx, s, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Remove(ctx, prefix, key); err != nil {
			return err
		}
	}
	return nil
}
