// Package measure implements the measurement subsystem: declared,
// validated, named values recorded by test phases. Scalar measurements are
// validated synchronously on every set; dimensioned measurements accumulate
// coordinate/value pairs and are validated once when the owning phase ends.
package measure

import "fmt"

// Outcome is the validation state of one measurement. It only ever moves
// forward: Unset to Pass or Fail for scalars, Unset to PartiallySet to
// Pass or Fail for dimensioned measurements.
type Outcome int

const (
	Unset Outcome = iota
	PartiallySet
	Pass
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Unset:
		return "UNSET"
	case PartiallySet:
		return "PARTIALLY_SET"
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(o))
}

// MarshalText makes Outcome render as its name in JSON records.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// NotAMeasurementError is returned when reading or writing a name that was
// never declared for the current phase.
type NotAMeasurementError struct {
	Name string
}

func (e *NotAMeasurementError) Error() string {
	return fmt.Sprintf("%q is not a declared measurement", e.Name)
}

// NotSetError is returned when reading a scalar measurement that has not
// received a value.
type NotSetError struct {
	Name string
}

func (e *NotSetError) Error() string {
	return fmt.Sprintf("measurement %q has not been set", e.Name)
}

// InvalidDimensionsError is returned when a coordinate tuple does not match
// the declared dimension count, or when a scalar accessor is used on a
// dimensioned measurement (and vice versa).
type InvalidDimensionsError struct {
	Name string
	Want int
	Got  int
}

func (e *InvalidDimensionsError) Error() string {
	return fmt.Sprintf("measurement %q takes %d coordinate(s), got %d", e.Name, e.Want, e.Got)
}

// Declaration describes one measurement slot before the phase runs. An
// empty Dimensions list declares a scalar; otherwise each entry is the unit
// code of one coordinate axis.
type Declaration struct {
	Name       string
	Doc        string
	Units      string
	Dimensions []string
	Validators []Validator
}

// DeclarationOption customizes a measurement declaration.
type DeclarationOption func(*Declaration)

// WithDoc attaches a human-readable description.
func WithDoc(doc string) DeclarationOption {
	return func(d *Declaration) { d.Doc = doc }
}

// WithUnits sets the unit code of the measured value.
func WithUnits(units string) DeclarationOption {
	return func(d *Declaration) { d.Units = units }
}

// WithDimensions declares the measurement as multi-dimensional, one unit
// code per coordinate axis.
func WithDimensions(axisUnits ...string) DeclarationOption {
	return func(d *Declaration) { d.Dimensions = axisUnits }
}

// WithValidators appends validators; all must pass for the measurement to
// pass.
func WithValidators(validators ...Validator) DeclarationOption {
	return func(d *Declaration) { d.Validators = append(d.Validators, validators...) }
}

// New builds a measurement declaration.
func New(name string, options ...DeclarationOption) Declaration {
	d := Declaration{Name: name}
	for _, o := range options {
		o(&d)
	}
	return d
}

// validatorDescriptions returns the retained string form of each validator,
// for inclusion in records.
func (d Declaration) validatorDescriptions() []string {
	if len(d.Validators) == 0 {
		return nil
	}
	out := make([]string, 0, len(d.Validators))
	for _, v := range d.Validators {
		out = append(out, v.String())
	}
	return out
}
