// Package registry keeps the name keyed entry points which may be run in
// another process. Both the launcher and the worker binary must register the
// same names, usually from an init function.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/warriorguo/launchpad/types"
)

var (
	funcs    = newTable[types.NodeFunc]("node function")
	services = newTable[types.ServiceFunc]("service")
)

func RegisterFunc(name string, fn types.NodeFunc) {
	funcs.register(name, fn, fn == nil)
}

func RegisterService(name string, fn types.ServiceFunc) {
	services.register(name, fn, fn == nil)
}

func LookupFunc(name string) (types.NodeFunc, bool) {
	return funcs.lookup(name)
}

func LookupService(name string) (types.ServiceFunc, bool) {
	return services.lookup(name)
}

// Funcs returns the registered node function names, sorted.
func Funcs() []string {
	return funcs.names()
}

// Services returns the registered service names, sorted.
func Services() []string {
	return services.names()
}

type table[T any] struct {
	mu      sync.RWMutex
	kind    string
	entries map[string]T
}

func newTable[T any](kind string) *table[T] {
	return &table[T]{kind: kind, entries: make(map[string]T)}
}

func (t *table[T]) register(name string, fn T, isNil bool) {
	if name == "" {
		panic(fmt.Sprintf("registry: empty %s name", t.kind))
	}
	if isNil {
		panic(fmt.Sprintf("registry: nil %s %s", t.kind, name))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[name]; exists {
		panic(fmt.Sprintf("registry: %s %s registered twice", t.kind, name))
	}
	t.entries[name] = fn
}

func (t *table[T]) lookup(name string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	fn, exists := t.entries[name]
	return fn, exists
}

func (t *table[T]) names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
