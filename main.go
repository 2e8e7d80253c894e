// Command station-harness runs a built-in self-check test sequence against
// a simulated device, exercising the whole engine end to end: plugs,
// measurements, phase execution, and output callbacks. It doubles as a
// worked example of how a real station assembles a test.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hwtest/station-harness/conf"
	"github.com/hwtest/station-harness/output"
	"github.com/hwtest/station-harness/record"
	"github.com/hwtest/station-harness/station"
)

func main() {
	var params commandParams
	if !params.Read(os.Args) {
		os.Exit(1)
	}

	rec, err := run(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if rec.Outcome != record.OutcomePass {
		os.Exit(1)
	}
}

func run(params commandParams) (*record.TestRecord, error) {
	cfg := conf.New()
	if err := declareConfig(cfg); err != nil {
		return nil, err
	}
	if params.configFile != "" {
		if err := cfg.LoadFile(params.configFile); err != nil {
			return nil, err
		}
	}

	registry, err := newSelfCheckRegistry()
	if err != nil {
		return nil, err
	}
	phases, teardown, err := selfCheckPhases(params.phaseTimeout, cfg)
	if err != nil {
		return nil, err
	}

	var callbacks []station.OutputCallback
	if params.jsonFile != "" {
		callbacks = append(callbacks, output.JSONFile(params.jsonFile))
	}
	if params.jUnitFile != "" {
		callbacks = append(callbacks, output.JUnitFile(params.jUnitFile))
	}

	executor, err := station.NewTestExecutor(station.TestConfig{
		StationID:       params.stationID,
		Phases:          station.SelectPhases(phases, params.filters),
		TeardownPhase:   &teardown,
		PlugRegistry:    registry,
		Config:          cfg,
		StartTrigger:    station.FixedDutID(params.dutID),
		RunLogger:       output.ConsoleRunLogger{DebugOutput: params.debug},
		OutputCallbacks: callbacks,
		Metadata:        map[string]interface{}{"sequence": "selfcheck"},
	})
	if err != nil {
		return nil, err
	}

	// an interrupt aborts the run but still finalizes and delivers the record
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range interrupts {
			fmt.Fprintln(os.Stderr, "interrupted; aborting test run")
			executor.Stop()
		}
	}()

	rec, err := executor.Run()
	signal.Stop(interrupts)
	close(interrupts)
	return rec, err
}

func declareConfig(cfg *conf.Config) error {
	declarations := []struct {
		key     string
		options []conf.DeclareOption
	}{
		{"target_voltage", []conf.DeclareOption{conf.WithDefault(3.3), conf.WithDoc("nominal rail voltage")}},
		{"voltage_tolerance", []conf.DeclareOption{conf.WithDefault(0.25), conf.WithDoc("allowed deviation from target")}},
		{"sweep_points", []conf.DeclareOption{conf.WithDefault(5), conf.WithDoc("frequency sweep sample count")}},
	}
	for _, d := range declarations {
		if err := cfg.Declare(d.key, d.options...); err != nil {
			return err
		}
	}
	return nil
}
