package output

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hwtest/station-harness/measure"
	"github.com/hwtest/station-harness/record"
	"github.com/hwtest/station-harness/station"
)

// Struct definitions for the JUnit XML schema - see https://github.com/jstemmer/go-junit-report

type jUnitXMLDocument struct {
	XMLName xml.Name            `xml:"testsuites"`
	Suites  []jUnitXMLTestSuite `xml:"testsuite"`
}

type jUnitXMLTestSuite struct {
	XMLName    xml.Name           `xml:"testsuite"`
	Tests      int                `xml:"tests,attr"`
	Failures   int                `xml:"failures,attr"`
	Time       string             `xml:"time,attr"`
	Name       string             `xml:"name,attr"`
	Properties []jUnitXMLProperty `xml:"properties>property,omitempty"`
	TestCases  []jUnitXMLTestCase `xml:"testcase"`
}

type jUnitXMLTestCase struct {
	XMLName   xml.Name         `xml:"testcase"`
	Classname string           `xml:"classname,attr"`
	Name      string           `xml:"name,attr"`
	Time      string           `xml:"time,attr"`
	Failure   *jUnitXMLFailure `xml:"failure,omitempty"`
}

type jUnitXMLProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type jUnitXMLFailure struct {
	Message  string `xml:"message,attr"`
	Type     string `xml:"type,attr"`
	Contents string `xml:",chardata"`
}

// JUnitFile returns a callback that renders the finished record as a JUnit
// XML document, one testcase per phase attempt, so station results can feed
// tooling that already understands that format.
func JUnitFile(path string) station.OutputCallback {
	return func(rec *record.TestRecord) error {
		data, err := MarshalJUnit(rec)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0644) //nolint:gosec
	}
}

// MarshalJUnit renders a finished record as JUnit XML.
func MarshalJUnit(rec *record.TestRecord) ([]byte, error) {
	suite := jUnitXMLTestSuite{
		Name: fmt.Sprintf("station test: DUT %s on %s", rec.DutID, rec.StationID),
		Properties: []jUnitXMLProperty{
			{Name: "station.runId", Value: rec.RunID},
			{Name: "station.outcome", Value: string(rec.Outcome)},
		},
	}

	total := time.Duration(0)
	for _, phase := range rec.Phases {
		elapsed := phase.EndTime.Sub(phase.StartTime)
		total += elapsed

		testCase := jUnitXMLTestCase{
			Classname: rec.StationID,
			Name:      phase.Name,
			Time:      jUnitDurationString(elapsed),
		}
		if phase.Attempt > 1 {
			testCase.Name = fmt.Sprintf("%s (attempt %d)", phase.Name, phase.Attempt)
		}
		if failure := phaseFailure(phase); failure != nil {
			suite.Failures++
			testCase.Failure = failure
		}
		suite.Tests++
		suite.TestCases = append(suite.TestCases, testCase)
	}
	suite.Time = jUnitDurationString(total)

	doc := jUnitXMLDocument{Suites: []jUnitXMLTestSuite{suite}}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// phaseFailure maps a non-passing phase attempt onto a JUnit failure node.
// Failed measurements count as failures even when the phase itself
// continued, since they fail the test during aggregation.
func phaseFailure(phase record.PhaseRecord) *jUnitXMLFailure {
	var messages []string
	switch phase.Outcome {
	case station.OutcomeContinue.String(), station.OutcomeRepeat.String(), station.OutcomeSkipped.String():
	default:
		message := phase.Outcome
		if phase.Error != "" {
			message += ": " + phase.Error
		}
		messages = append(messages, message)
	}
	for _, m := range phase.Measurements {
		if m.Outcome == measure.Fail {
			messages = append(messages, fmt.Sprintf("measurement %s = %v failed %v", m.Name, m.Value, m.Validators))
		}
	}
	if len(messages) == 0 {
		return nil
	}
	return &jUnitXMLFailure{
		Message: strings.Join(messages, "\n"),
		Type:    phase.Outcome,
	}
}

func jUnitDurationString(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
