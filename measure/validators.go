package measure

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/hwtest/station-harness/framework/opt"
)

// Validator has final say over whether a measured value passes. Its string
// representation is retained in records for reporting, so implementations
// should describe the condition they test ("in range [0, 10]").
//
// For a scalar measurement the value passed to Validate is the value that
// was set. For a dimensioned measurement it is the complete []Element slice
// accumulated during the phase.
type Validator interface {
	Validate(value interface{}) bool
	String() string
}

type validatorFunc struct {
	fn   func(interface{}) bool
	desc string
}

func (v validatorFunc) Validate(value interface{}) bool { return v.fn(value) }
func (v validatorFunc) String() string                  { return v.desc }

// ValidatorFunc wraps an arbitrary predicate as a Validator. The description
// is what appears in records.
func ValidatorFunc(description string, fn func(value interface{}) bool) Validator {
	return validatorFunc{fn: fn, desc: description}
}

// InRange builds a validator that checks a numeric value against inclusive
// bounds. Either bound may be omitted with opt.None; equal bounds behave as
// an equality check.
func InRange(minimum, maximum opt.Maybe[float64]) Validator {
	return validatorFunc{
		fn: func(value interface{}) bool {
			n, ok := toFloat(value)
			if !ok {
				return false
			}
			if minimum.IsDefined() && n < minimum.Value() {
				return false
			}
			if maximum.IsDefined() && n > maximum.Value() {
				return false
			}
			return true
		},
		desc: fmt.Sprintf("in range [%s, %s]", minimum, maximum),
	}
}

// Between is shorthand for InRange with both bounds present.
func Between(minimum, maximum float64) Validator {
	return InRange(opt.Some(minimum), opt.Some(maximum))
}

// Equal builds a validator that checks the value against an expected value
// using reflect.DeepEqual, with numeric values compared by magnitude so that
// an int measurement can match a float expectation.
func Equal(expected interface{}) Validator {
	return validatorFunc{
		fn: func(value interface{}) bool {
			if en, ok := toFloat(expected); ok {
				vn, ok := toFloat(value)
				return ok && vn == en
			}
			return reflect.DeepEqual(value, expected)
		},
		desc: fmt.Sprintf("equal to %v", expected),
	}
}

// MatchesRegex builds a validator that checks the stringified value against
// a compiled pattern.
func MatchesRegex(pattern *regexp.Regexp) Validator {
	return validatorFunc{
		fn: func(value interface{}) bool {
			return pattern.MatchString(fmt.Sprintf("%v", value))
		},
		desc: fmt.Sprintf("matches /%s/", pattern),
	}
}

// AllOf combines validators so that every one must pass.
func AllOf(validators ...Validator) Validator {
	return validatorFunc{
		fn: func(value interface{}) bool {
			for _, v := range validators {
				if !v.Validate(value) {
					return false
				}
			}
			return true
		},
		desc: "(" + joinDescriptions(validators, " and ") + ")",
	}
}

// Not inverts a validator.
func Not(validator Validator) Validator {
	return validatorFunc{
		fn:   func(value interface{}) bool { return !validator.Validate(value) },
		desc: "not " + validator.String(),
	}
}

func joinDescriptions(validators []Validator, separator string) string {
	ss := make([]string, 0, len(validators))
	for _, v := range validators {
		ss = append(ss, v.String())
	}
	return strings.Join(ss, separator)
}

func toFloat(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
