package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hwtest/station-harness/record"
	"github.com/hwtest/station-harness/station"
)

// JSONWriter returns a callback that writes the finished record to w as
// indented JSON.
func JSONWriter(w io.Writer) station.OutputCallback {
	return func(rec *record.TestRecord) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rec)
	}
}

// JSONFile returns a callback that writes the finished record to a file
// named after a pattern. The pattern may contain %s verbs which are filled,
// in order, with the DUT id and the run id ("records/%s-%s.json").
func JSONFile(pattern string) station.OutputCallback {
	return func(rec *record.TestRecord) error {
		path := pattern
		switch countVerbs(pattern) {
		case 1:
			path = fmt.Sprintf(pattern, rec.DutID)
		case 2:
			path = fmt.Sprintf(pattern, rec.DutID, rec.RunID)
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck
		return JSONWriter(f)(rec)
	}
}

func countVerbs(pattern string) int {
	n := 0
	for i := 0; i+1 < len(pattern); i++ {
		if pattern[i] == '%' {
			if pattern[i+1] == 's' {
				n++
			}
			i++ // skip escaped %%
		}
	}
	return n
}
