package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warriorguo/launchpad/store"
)

var (
	_ store.Store         = &memStore{}
	_ store.PrefixRemover = &memStore{}
)

func NewMemStore() store.Store {
	return &memStore{
		m: make(map[string][]byte),
		// setup no error as default
		mockErrHandler: defaultNoErr,
	}
}

// NewMemStoreWithErrHandler returns a store failing every call errHandler
// fails, for testing how record persistence errors are tolerated.
func NewMemStoreWithErrHandler(errHandler func() error) store.Store {
	return &memStore{
		m:              make(map[string][]byte),
		mockErrHandler: errHandler,
	}
}

func defaultNoErr() error {
	return nil
}

/**
 * memStore keeps the records of a single launching process in memory,
 * they are gone once the process exits.
 */
type memStore struct {
	mu sync.Mutex

	mockErrHandler func() error

	m map[string][]byte
}

func (m *memStore) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.m))
	for key := range m.m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	s := "\n----------\n"
	for _, key := range keys {
		s += fmt.Sprintf("%s: %s\n", key, string(m.m[key]))
	}
	s += "----------\n"
	return s
}

func (m *memStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	if err := m.mockErrHandler(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	value, exists := m.m[prefix+"|"+key]
	if !exists {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (m *memStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	if err := m.mockErrHandler(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.m[prefix+"|"+key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Remove(ctx context.Context, prefix, key string) error {
	if err := m.mockErrHandler(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.m, prefix+"|"+key)
	return nil
}

func (m *memStore) RemovePrefix(ctx context.Context, prefix string) error {
	if err := m.mockErrHandler(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix += "|"
	for key := range m.m {
		if strings.HasPrefix(key, prefix) {
			delete(m.m, key)
		}
	}
	return nil
}

// List visits keys in lexical order, like the postgres store.
func (m *memStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	if err := m.mockErrHandler(); err != nil {
		return err
	}
	m.mu.Lock()
	prefix += "|"
	matchedKeys := make([]string, 0)
	for key := range m.m {
		if k, ok := strings.CutPrefix(key, prefix); ok {
			matchedKeys = append(matchedKeys, k)
		}
	}
	m.mu.Unlock()

	sort.Strings(matchedKeys)
	for _, key := range matchedKeys {
		if !iterator(key) {
			break
		}
	}
	return nil
}
