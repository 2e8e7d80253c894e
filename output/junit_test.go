package output

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwtest/station-harness/measure"
	"github.com/hwtest/station-harness/record"
)

func failingRecord(t *testing.T) *record.TestRecord {
	t.Helper()
	rec := record.New("station-1")
	rec.SetDutID("dut-42")
	start := time.Now()
	rec.AppendPhase(record.PhaseRecord{
		Name:      "power_on",
		Attempt:   1,
		StartTime: start,
		EndTime:   start.Add(100 * time.Millisecond),
		Outcome:   "CONTINUE",
	})
	rec.AppendPhase(record.PhaseRecord{
		Name:      "rail_voltage",
		Attempt:   1,
		StartTime: start,
		EndTime:   start.Add(50 * time.Millisecond),
		Outcome:   "REPEAT",
	})
	rec.AppendPhase(record.PhaseRecord{
		Name:      "rail_voltage",
		Attempt:   2,
		StartTime: start,
		EndTime:   start.Add(50 * time.Millisecond),
		Outcome:   "CONTINUE",
		Measurements: []measure.Record{
			{Name: "voltage", Value: 4.9, Outcome: measure.Fail, Validators: []string{"in range [3.0, 3.6]"}},
		},
	})
	rec.AppendPhase(record.PhaseRecord{
		Name:      "identify",
		Attempt:   1,
		StartTime: start,
		EndTime:   start.Add(10 * time.Millisecond),
		Outcome:   "RAISED",
		Error:     "bus fault",
	})
	require.NoError(t, rec.SetOutcome(record.OutcomeError))
	require.NoError(t, rec.Finalize())
	return rec
}

func TestMarshalJUnit(t *testing.T) {
	data, err := MarshalJUnit(failingRecord(t))
	require.NoError(t, err)

	var doc jUnitXMLDocument
	require.NoError(t, xml.Unmarshal(data, &doc))
	require.Len(t, doc.Suites, 1)
	suite := doc.Suites[0]

	assert.Equal(t, 4, suite.Tests)
	assert.Equal(t, 2, suite.Failures)
	assert.Contains(t, suite.Name, "dut-42")
	require.Len(t, suite.TestCases, 4)

	assert.Equal(t, "power_on", suite.TestCases[0].Name)
	assert.Nil(t, suite.TestCases[0].Failure)

	// a Repeat attempt is not a failure, and repeated attempts get distinct names
	assert.Equal(t, "rail_voltage", suite.TestCases[1].Name)
	assert.Nil(t, suite.TestCases[1].Failure)
	assert.Equal(t, "rail_voltage (attempt 2)", suite.TestCases[2].Name)
	require.NotNil(t, suite.TestCases[2].Failure)
	assert.Contains(t, suite.TestCases[2].Failure.Message, "voltage")

	assert.Equal(t, "identify", suite.TestCases[3].Name)
	require.NotNil(t, suite.TestCases[3].Failure)
	assert.Contains(t, suite.TestCases[3].Failure.Message, "RAISED: bus fault")
	assert.Equal(t, "RAISED", suite.TestCases[3].Failure.Type)

	properties := map[string]string{}
	for _, p := range suite.Properties {
		properties[p.Name] = p.Value
	}
	assert.Equal(t, "ERROR", properties["station.outcome"])
	assert.NotEmpty(t, properties["station.runId"])
}

func TestMarshalJUnitPassingRecord(t *testing.T) {
	data, err := MarshalJUnit(sampleRecord(t))
	require.NoError(t, err)

	var doc jUnitXMLDocument
	require.NoError(t, xml.Unmarshal(data, &doc))
	require.Len(t, doc.Suites, 1)
	assert.Equal(t, 1, doc.Suites[0].Tests)
	assert.Equal(t, 0, doc.Suites[0].Failures)
	assert.Equal(t, "0.120", doc.Suites[0].TestCases[0].Time)
}

func TestJUnitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xml")
	require.NoError(t, JUnitFile(path)(sampleRecord(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<testsuites>")
}
