package station

import (
	"fmt"
	"regexp"
	"strings"
)

// RegexFilters selects which phases of a sequence to run by name. Phase
// selection happens before the executor starts, so the engine still sees a
// fixed, immutable sequence.
type RegexFilters struct {
	MustMatch    PatternList
	MustNotMatch PatternList
}

// Match reports whether a phase with the given name should run.
func (r RegexFilters) Match(name string) bool {
	return (len(r.MustMatch) == 0 || r.MustMatch.AnyMatch(name)) &&
		!r.MustNotMatch.AnyMatch(name)
}

// PatternList is a list of regex patterns. It implements flag.Value so a
// command line can accumulate several -run or -skip flags.
type PatternList []*regexp.Regexp

// AnyMatch reports whether any pattern matches the name.
func (l PatternList) AnyMatch(name string) bool {
	for _, p := range l {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

func (l PatternList) String() string {
	ss := make([]string, 0, len(l))
	for _, p := range l {
		ss = append(ss, `"`+p.String()+`"`)
	}
	return strings.Join(ss, " or ")
}

// Set compiles and appends one pattern (flag.Value).
func (l *PatternList) Set(value string) error {
	rx, err := regexp.Compile(value)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	*l = append(*l, rx)
	return nil
}

// SelectPhases returns the subsequence of phases whose names pass the
// filters, preserving order.
func SelectPhases(phases []Phase, filters RegexFilters) []Phase {
	selected := make([]Phase, 0, len(phases))
	for _, p := range phases {
		if filters.Match(p.Name) {
			selected = append(selected, p)
		}
	}
	return selected
}
