// Package conf implements the configuration accessor consumed by capability
// constructors and phase predicates. Keys must be declared before use;
// values come from explicit Set calls or loaded files, falling back to the
// declared default.
//
// A Config is always passed explicitly through constructors. Library code
// never reaches for a process-wide instance.
package conf

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/hwtest/station-harness/framework/opt"
)

// UndeclaredKeyError is returned when a key is accessed or assigned without
// having been declared first.
type UndeclaredKeyError struct {
	Key string
}

func (e *UndeclaredKeyError) Error() string {
	return fmt.Sprintf("configuration key %q has not been declared", e.Key)
}

// UnsetKeyError is returned by Get when a declared key has neither an
// assigned value nor a default.
type UnsetKeyError struct {
	Key string
}

func (e *UnsetKeyError) Error() string {
	return fmt.Sprintf("configuration key %q has no value and no default", e.Key)
}

type declaration struct {
	doc          string
	defaultValue opt.Maybe[interface{}]
}

// DeclareOption customizes a key declaration.
type DeclareOption func(*declaration)

// WithDefault sets the value a key resolves to when nothing has been
// assigned to it.
func WithDefault(value interface{}) DeclareOption {
	return func(d *declaration) { d.defaultValue = opt.Some(value) }
}

// WithDoc attaches a human-readable description to a key declaration.
func WithDoc(doc string) DeclareOption {
	return func(d *declaration) { d.doc = doc }
}

// Config resolves declared keys to values. Precedence, highest first:
// values assigned with Set or loaded with LoadFromMap/LoadFile (later
// assignments win), then the declared default.
type Config struct {
	lock     sync.RWMutex
	declared map[string]declaration
	values   map[string]interface{}
}

// New creates an empty Config with no declared keys.
func New() *Config {
	return &Config{
		declared: make(map[string]declaration),
		values:   make(map[string]interface{}),
	}
}

// Declare registers a key. Declaring the same key twice is an error, since
// it usually means two components are fighting over the same name.
func (c *Config) Declare(key string, options ...DeclareOption) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.declared[key]; ok {
		return fmt.Errorf("configuration key %q is already declared", key)
	}
	var d declaration
	for _, o := range options {
		o(&d)
	}
	c.declared[key] = d
	return nil
}

// Set assigns a value to a declared key, replacing any previous assignment.
func (c *Config) Set(key string, value interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.declared[key]; !ok {
		return &UndeclaredKeyError{Key: key}
	}
	c.values[key] = value
	return nil
}

// Get resolves a declared key to its current value.
func (c *Config) Get(key string) (interface{}, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	d, ok := c.declared[key]
	if !ok {
		return nil, &UndeclaredKeyError{Key: key}
	}
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	if d.defaultValue.IsDefined() {
		return d.defaultValue.Value(), nil
	}
	return nil, &UnsetKeyError{Key: key}
}

// GetString resolves a key and formats its value as a string.
func (c *Config) GetString(key string) (string, error) {
	v, err := c.Get(key)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}

// GetFloat64 resolves a key to a numeric value. JSON and YAML sources may
// deliver numbers as any of the basic numeric types.
func (c *Config) GetFloat64(key string) (float64, error) {
	v, err := c.Get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("configuration key %q has non-numeric value %v (%T)", key, v, v)
}

// LoadFromMap assigns values in bulk. Every key in the map must have been
// declared; a failed key aborts the load with nothing partially applied.
func (c *Config) LoadFromMap(values map[string]interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	for key := range values {
		if _, ok := c.declared[key]; !ok {
			return &UndeclaredKeyError{Key: key}
		}
	}
	for key, value := range values {
		c.values[key] = value
	}
	return nil
}

// LoadFile reads a JSON or YAML file containing a flat key/value object and
// assigns its contents as with LoadFromMap.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading configuration file: %w", err)
	}
	var values map[string]interface{}
	if err := ParseJSONOrYAML(data, &values); err != nil {
		return fmt.Errorf("parsing configuration file %s: %w", path, err)
	}
	return c.LoadFromMap(values)
}

// Keys returns the declared key names in sorted order.
func (c *Config) Keys() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	keys := maps.Keys(c.declared)
	slices.Sort(keys)
	return keys
}
