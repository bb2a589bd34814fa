package mmdfstore

import (
	"sort"
	"sync"

	"github.com/infodancer/mmdfstore/errors"
)

// StoreFactory opens a backend from its configuration.
type StoreFactory func(config StoreConfig) (MsgStore, error)

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	// Type is the registered backend name, "mmdf" for mailbox files.
	Type string `toml:"type"`

	// BasePath is the directory mailbox names are resolved under.
	BasePath string `toml:"base_path"`

	// Options are passed to the backend unchanged.
	Options map[string]string `toml:"options"`
}

// factoryRegistry maps type names to factories. Backends fill it from
// init functions.
type factoryRegistry[F any] struct {
	fn string // registering function, for panic messages

	mu        sync.RWMutex
	factories map[string]F
}

func newFactoryRegistry[F any](fn string) *factoryRegistry[F] {
	return &factoryRegistry[F]{fn: fn, factories: make(map[string]F)}
}

// add panics on an empty name, a missing factory or a name taken twice.
func (r *factoryRegistry[F]) add(name string, factory F, missing bool) {
	if name == "" {
		panic("mmdfstore: " + r.fn + " called with empty name")
	}
	if missing {
		panic("mmdfstore: " + r.fn + " called with nil factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic("mmdfstore: " + r.fn + " called twice for " + name)
	}
	r.factories[name] = factory
}

func (r *factoryRegistry[F]) get(name string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// names returns the registered names in sorted order.
func (r *factoryRegistry[F]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var stores = newFactoryRegistry[StoreFactory]("Register")

// Register makes a backend available to Open under name. It panics if name
// is empty or already taken, or if factory is nil.
func Register(name string, factory StoreFactory) {
	stores.add(name, factory, factory == nil)
}

// Open opens the backend named by config.Type.
func Open(config StoreConfig) (MsgStore, error) {
	factory, ok := stores.get(config.Type)
	if !ok {
		return nil, errors.ErrStoreNotRegistered
	}
	return factory(config)
}

// RegisteredTypes returns the backend names in sorted order.
func RegisteredTypes() []string {
	return stores.names()
}
