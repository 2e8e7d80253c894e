package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hwtest/station-harness/station"
)

type commandParams struct {
	stationID    string
	dutID        string
	configFile   string
	filters      station.RegexFilters
	jsonFile     string
	jUnitFile    string
	debug        bool
	phaseTimeout time.Duration
}

func (c *commandParams) Read(args []string) bool {
	fs := flag.NewFlagSet("", flag.ExitOnError)
	fs.StringVar(&c.stationID, "station", "selfcheck", "station identifier stored on the record")
	fs.StringVar(&c.dutID, "dut", "DUT0001", "device-under-test identifier")
	fs.StringVar(&c.configFile, "config", "", "JSON or YAML configuration file")
	fs.Var(&c.filters.MustMatch, "run", "regex pattern(s) to select phases to run")
	fs.Var(&c.filters.MustNotMatch, "skip", "regex pattern(s) to select phases not to run")
	fs.StringVar(&c.jsonFile, "json", "", "write the finished record as JSON to the specified path")
	fs.StringVar(&c.jUnitFile, "junit", "", "write JUnit XML output to the specified path")
	fs.BoolVar(&c.debug, "debug", false, "print the captured run log with the summary")
	fs.DurationVar(&c.phaseTimeout, "phase-timeout", 30*time.Second, "per-phase deadline")

	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		return false
	}
	if c.dutID == "" {
		fmt.Fprintln(os.Stderr, "-dut must not be empty")
		fs.Usage()
		return false
	}
	return true
}
