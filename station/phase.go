package station

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"github.com/hwtest/station-harness/framework/helpers"
	"github.com/hwtest/station-harness/measure"
)

// DefaultPhaseTimeout applies to phases that do not set their own timeout.
const DefaultPhaseTimeout = 3 * time.Minute

// BodyFunc is the work of one phase. It may block on hardware I/O; it is
// expected to check run.Context() at natural suspension points so that
// timeouts and Stop requests can land cooperatively. Returning a non-nil
// error produces a Raised outcome and stops the test with an Error result.
type BodyFunc func(run *PhaseRun) (Verdict, error)

// Phase is one unit of test work. It is immutable once the test starts; the
// engine never mutates a Phase, and a Phase value can be copied with a
// substituted name via WithName to parameterize one body into several
// phases.
type Phase struct {
	Name         string
	Doc          string
	Body         BodyFunc
	Timeout      time.Duration
	RunIf        func(data map[string]interface{}) bool
	Plugs        []string
	Measurements []measure.Declaration
}

// PhaseOption customizes a phase at construction time.
type PhaseOption = helpers.ConfigOption[Phase]

type phaseOptionFunc func(*Phase) error

func (f phaseOptionFunc) Configure(p *Phase) error { return f(p) }

// WithTimeout sets the phase's wall-clock deadline.
func WithTimeout(timeout time.Duration) PhaseOption {
	return phaseOptionFunc(func(p *Phase) error {
		if timeout <= 0 {
			return fmt.Errorf("phase timeout must be positive, got %s", timeout)
		}
		p.Timeout = timeout
		return nil
	})
}

// WithDoc attaches a human-readable description.
func WithDoc(doc string) PhaseOption {
	return phaseOptionFunc(func(p *Phase) error {
		p.Doc = doc
		return nil
	})
}

// RunIf sets a predicate over the shared phase data; if it returns false
// when the phase's turn comes, the phase is skipped without producing an
// outcome or a record.
func RunIf(predicate func(data map[string]interface{}) bool) PhaseOption {
	return phaseOptionFunc(func(p *Phase) error {
		p.RunIf = predicate
		return nil
	})
}

// RequiresPlug declares capability keys the phase needs. The executor
// creates the instances before any phase runs; duplicate declarations
// across phases resolve to the same single instance.
func RequiresPlug(keys ...string) PhaseOption {
	return phaseOptionFunc(func(p *Phase) error {
		for _, key := range keys {
			if !slices.Contains(p.Plugs, key) {
				p.Plugs = append(p.Plugs, key)
			}
		}
		return nil
	})
}

// Measures declares measurement slots for the phase. Names must be unique
// within the phase.
func Measures(declarations ...measure.Declaration) PhaseOption {
	return phaseOptionFunc(func(p *Phase) error {
		for _, d := range declarations {
			for _, existing := range p.Measurements {
				if existing.Name == d.Name {
					return fmt.Errorf("measurement %q is declared twice in phase %q", d.Name, p.Name)
				}
			}
			p.Measurements = append(p.Measurements, d)
		}
		return nil
	})
}

// NewPhase builds a phase from a name, a body, and options.
func NewPhase(name string, body BodyFunc, options ...PhaseOption) (Phase, error) {
	if name == "" {
		return Phase{}, errors.New("phase name must not be empty")
	}
	if body == nil {
		return Phase{}, fmt.Errorf("phase %q has no body", name)
	}
	p := Phase{Name: name, Body: body, Timeout: DefaultPhaseTimeout}
	if err := helpers.ApplyOptions(&p, options...); err != nil {
		return Phase{}, fmt.Errorf("phase %q: %w", name, err)
	}
	return p, nil
}

// WithName returns a copy of the phase with a substituted name and doc,
// for building several parameterized phases from one body.
func (p Phase) WithName(name, doc string) Phase {
	copied := p
	copied.Name = name
	copied.Doc = doc
	copied.Plugs = append([]string(nil), p.Plugs...)
	copied.Measurements = append([]measure.Declaration(nil), p.Measurements...)
	return copied
}
