package measure

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hwtest/station-harness/framework"
)

// Element is one coordinate/value pair of a dimensioned measurement, in the
// order the coordinates were set.
type Element struct {
	Coordinates []interface{} `json:"coordinates"`
	Value       interface{}   `json:"value"`
}

// Record is the sealed, reportable form of one measurement after a phase
// has ended.
type Record struct {
	Name       string      `json:"name"`
	Doc        string      `json:"doc,omitempty"`
	Units      string      `json:"units,omitempty"`
	Dimensions []string    `json:"dimensions,omitempty"`
	Validators []string    `json:"validators,omitempty"`
	Outcome    Outcome     `json:"outcome"`
	Value      interface{} `json:"value,omitempty"`
	Elements   []Element   `json:"elements,omitempty"`
}

type measurement struct {
	decl    Declaration
	outcome Outcome

	// scalar state
	isSet bool
	value interface{}

	// dimensioned state
	elements []Element
	byKey    map[string]int
}

func (m *measurement) dimensioned() bool { return len(m.decl.Dimensions) > 0 }

// Collection is the live value store for one phase execution. It is built
// fresh from the phase's declarations each time the phase runs.
//
// A Collection is safe for concurrent use. Normally only the phase body
// touches it, but a timed-out body that did not honor cancellation may
// still be writing while the engine snapshots the results.
type Collection struct {
	lock   sync.Mutex
	logger framework.Logger
	order  []string
	byName map[string]*measurement
}

// NewCollection builds the value store for a phase execution. Declarations
// must have unique names.
func NewCollection(declarations []Declaration, logger framework.Logger) (*Collection, error) {
	if logger == nil {
		logger = framework.NullLogger()
	}
	c := &Collection{
		logger: logger,
		byName: make(map[string]*measurement, len(declarations)),
	}
	for _, d := range declarations {
		if _, exists := c.byName[d.Name]; exists {
			return nil, fmt.Errorf("measurement %q is declared twice", d.Name)
		}
		c.order = append(c.order, d.Name)
		c.byName[d.Name] = &measurement{decl: d, byKey: make(map[string]int)}
	}
	return c, nil
}

// Set assigns a scalar measurement and validates it immediately. Setting a
// value that was already set is allowed, but logged as a warning since the
// previous value is discarded; the measurement is then re-validated against
// the new value.
func (c *Collection) Set(name string, value interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	m, ok := c.byName[name]
	if !ok {
		return &NotAMeasurementError{Name: name}
	}
	if m.dimensioned() {
		return &InvalidDimensionsError{Name: name, Want: len(m.decl.Dimensions), Got: 0}
	}
	if m.isSet {
		c.logger.Printf("warning: measurement %q was already set to %v; overwriting with %v",
			name, m.value, value)
	}
	m.isSet = true
	m.value = value
	m.outcome = c.validate(m, value)
	return nil
}

// Get returns the current value of a scalar measurement.
func (c *Collection) Get(name string) (interface{}, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	m, ok := c.byName[name]
	if !ok {
		return nil, &NotAMeasurementError{Name: name}
	}
	if m.dimensioned() {
		return nil, &InvalidDimensionsError{Name: name, Want: len(m.decl.Dimensions), Got: 0}
	}
	if !m.isSet {
		return nil, &NotSetError{Name: name}
	}
	return m.value, nil
}

// SetAt assigns one coordinate of a dimensioned measurement. The coordinate
// tuple must match the declared dimension count. The measurement becomes
// PartiallySet; validation is deferred until the phase ends.
func (c *Collection) SetAt(name string, coordinates []interface{}, value interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	m, ok := c.byName[name]
	if !ok {
		return &NotAMeasurementError{Name: name}
	}
	if !m.dimensioned() || len(coordinates) != len(m.decl.Dimensions) {
		return &InvalidDimensionsError{Name: name, Want: len(m.decl.Dimensions), Got: len(coordinates)}
	}
	key := coordinateKey(coordinates)
	if i, exists := m.byKey[key]; exists {
		c.logger.Printf("warning: measurement %q already has a value at %v; overwriting", name, coordinates)
		m.elements[i].Value = value
	} else {
		m.byKey[key] = len(m.elements)
		m.elements = append(m.elements, Element{Coordinates: coordinates, Value: value})
	}
	if m.outcome == Unset {
		m.outcome = PartiallySet
	}
	return nil
}

// Elements returns the accumulated coordinate/value pairs of a dimensioned
// measurement, in set order.
func (c *Collection) Elements(name string) ([]Element, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	m, ok := c.byName[name]
	if !ok {
		return nil, &NotAMeasurementError{Name: name}
	}
	if !m.dimensioned() {
		return nil, &InvalidDimensionsError{Name: name, Want: 0, Got: 1}
	}
	return append([]Element(nil), m.elements...), nil
}

// Outcome returns the current validation state of a measurement.
func (c *Collection) Outcome(name string) (Outcome, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	m, ok := c.byName[name]
	if !ok {
		return Unset, &NotAMeasurementError{Name: name}
	}
	return m.outcome, nil
}

// Finalize validates every dimensioned measurement that received at least
// one value; the validators see the complete []Element slice. Dimensioned
// measurements with no values stay Unset and are excluded from pass/fail
// aggregation. Finalize is called by the engine when the phase ends,
// whatever the phase outcome was.
func (c *Collection) Finalize() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, name := range c.order {
		m := c.byName[name]
		if !m.dimensioned() || m.outcome != PartiallySet {
			continue
		}
		m.outcome = c.validate(m, append([]Element(nil), m.elements...))
	}
}

// Snapshot seals the current state of every declared measurement into
// records, in declaration order.
func (c *Collection) Snapshot() []Record {
	c.lock.Lock()
	defer c.lock.Unlock()
	records := make([]Record, 0, len(c.order))
	for _, name := range c.order {
		m := c.byName[name]
		rec := Record{
			Name:       m.decl.Name,
			Doc:        m.decl.Doc,
			Units:      m.decl.Units,
			Dimensions: m.decl.Dimensions,
			Validators: m.decl.validatorDescriptions(),
			Outcome:    m.outcome,
		}
		if m.dimensioned() {
			rec.Elements = append([]Element(nil), m.elements...)
		} else if m.isSet {
			rec.Value = m.value
		}
		records = append(records, rec)
	}
	return records
}

// validate runs all validators (logical AND). Callers hold the lock.
func (c *Collection) validate(m *measurement, value interface{}) Outcome {
	for _, v := range m.decl.Validators {
		if !v.Validate(value) {
			c.logger.Printf("measurement %q failed validator %s", m.decl.Name, v)
			return Fail
		}
	}
	return Pass
}

func coordinateKey(coordinates []interface{}) string {
	parts := make([]string, 0, len(coordinates))
	for _, coordinate := range coordinates {
		parts = append(parts, fmt.Sprintf("%v", coordinate))
	}
	return strings.Join(parts, "\x1f")
}
