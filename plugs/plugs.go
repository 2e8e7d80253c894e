// Package plugs manages capability instances: the shared, test-run-scoped
// resource objects (typically hardware adapters) that phases declare a need
// for. Capability types are identified by a stable key registered at test
// construction time; the Manager owns one instance per key for the lifetime
// of a run and guarantees that teardown hooks run exactly once.
package plugs

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/hwtest/station-harness/conf"
	"github.com/hwtest/station-harness/framework"
)

// TearDowner is the optional lifecycle hook a plug can implement to release
// external resources when the run ends. No other interface is required of a
// plug.
type TearDowner interface {
	TearDown() error
}

// Factory constructs a plug instance. Construction parameters come from the
// injected configuration; a factory error is fatal to the whole run.
type Factory func(cfg *conf.Config) (interface{}, error)

// UnknownPlugError is returned when a phase requires a key that was never
// registered.
type UnknownPlugError struct {
	Key string
}

func (e *UnknownPlugError) Error() string {
	return fmt.Sprintf("no plug factory registered for %q", e.Key)
}

// NotCreatedError is returned by Get when the instance has not been created
// for this run.
type NotCreatedError struct {
	Key string
}

func (e *NotCreatedError) Error() string {
	return fmt.Sprintf("plug %q has not been created for this run", e.Key)
}

// Registry maps stable capability keys to factories. It is assembled before
// the test starts and shared read-only afterwards.
type Registry struct {
	lock      sync.Mutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a key. Registering the same key twice is an
// error.
func (r *Registry) Register(key string, factory Factory) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("plug %q is already registered", key)
	}
	r.factories[key] = factory
	return nil
}

func (r *Registry) factory(key string) (Factory, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	f, ok := r.factories[key]
	return f, ok
}

// Manager owns the capability instances of one test run. Phases borrow
// instances through Get for the duration of their execution only.
type Manager struct {
	lock      sync.Mutex
	registry  *Registry
	cfg       *conf.Config
	logger    framework.Logger
	instances map[string]interface{}
	tornDown  bool
}

// NewManager creates a Manager for one run. The logger may be nil.
func NewManager(registry *Registry, cfg *conf.Config, logger framework.Logger) *Manager {
	if logger == nil {
		logger = framework.NullLogger()
	}
	return &Manager{
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
		instances: make(map[string]interface{}),
	}
}

// EnsureCreated constructs the instance for a key if it does not exist yet,
// and returns the (possibly cached) instance. Multiple phases declaring the
// same key share one instance.
func (m *Manager) EnsureCreated(key string) (interface{}, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if instance, ok := m.instances[key]; ok {
		return instance, nil
	}
	factory, ok := m.registry.factory(key)
	if !ok {
		return nil, &UnknownPlugError{Key: key}
	}
	instance, err := factory(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing plug %q: %w", key, err)
	}
	m.logger.Printf("plug %q created", key)
	m.instances[key] = instance
	return instance, nil
}

// Get borrows the cached instance for a key.
func (m *Manager) Get(key string) (interface{}, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	instance, ok := m.instances[key]
	if !ok {
		return nil, &NotCreatedError{Key: key}
	}
	return instance, nil
}

// TeardownAll calls the TearDown hook on every created instance that has
// one. A failing (or panicking) hook never prevents teardown of the
// remaining instances; all failures are logged and returned joined. Calling
// TeardownAll again is a no-op.
func (m *Manager) TeardownAll() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.tornDown {
		return nil
	}
	m.tornDown = true

	keys := maps.Keys(m.instances)
	slices.Sort(keys)

	var errs []error
	for _, key := range keys {
		if err := teardownOne(key, m.instances[key]); err != nil {
			m.logger.Printf("teardown of plug %q failed: %s", key, err)
			errs = append(errs, fmt.Errorf("plug %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func teardownOne(key string, instance interface{}) (err error) {
	td, ok := instance.(TearDowner)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in teardown: %v", r)
		}
	}()
	return td.TearDown()
}
