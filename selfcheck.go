package main

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/hwtest/station-harness/conf"
	"github.com/hwtest/station-harness/measure"
	"github.com/hwtest/station-harness/plugs"
	"github.com/hwtest/station-harness/station"
)

// simulatedDUT stands in for a real device adapter so the harness can be
// exercised without hardware on the bench. Readings are deterministic; the
// first voltage reading after power-on is low so the rail_voltage phase gets
// to demonstrate a Repeat.
type simulatedDUT struct {
	targetVoltage float64
	powered       bool
	voltageReads  int
}

func newSimulatedDUT(cfg *conf.Config) (interface{}, error) {
	target, err := cfg.GetFloat64("target_voltage")
	if err != nil {
		return nil, err
	}
	return &simulatedDUT{targetVoltage: target}, nil
}

func (d *simulatedDUT) PowerOn()  { d.powered = true }
func (d *simulatedDUT) PowerOff() { d.powered = false }

func (d *simulatedDUT) FirmwareVersion() (string, error) {
	if !d.powered {
		return "", errors.New("device is not powered")
	}
	return "fw-2.4.1", nil
}

// ReadVoltage returns the rail voltage. The rail takes one read cycle to
// settle after power-on.
func (d *simulatedDUT) ReadVoltage() (float64, error) {
	if !d.powered {
		return 0, errors.New("device is not powered")
	}
	d.voltageReads++
	if d.voltageReads == 1 {
		return d.targetVoltage * 0.5, nil
	}
	return d.targetVoltage, nil
}

// SweepResponse returns the simulated gain at a frequency, flat at 1.0 with
// mild rolloff above 1 kHz.
func (d *simulatedDUT) SweepResponse(freqHz float64) (float64, error) {
	if !d.powered {
		return 0, errors.New("device is not powered")
	}
	if freqHz > 1000 {
		return 0.95, nil
	}
	return 1.0, nil
}

func (d *simulatedDUT) TearDown() error {
	d.powered = false
	return nil
}

func newSelfCheckRegistry() (*plugs.Registry, error) {
	registry := plugs.NewRegistry()
	if err := registry.Register("dut", newSimulatedDUT); err != nil {
		return nil, err
	}
	return registry, nil
}

func borrowDUT(run *station.PhaseRun) (*simulatedDUT, error) {
	instance, err := run.Plug("dut")
	if err != nil {
		return nil, err
	}
	dut, ok := instance.(*simulatedDUT)
	if !ok {
		return nil, fmt.Errorf("plug %q has unexpected type %T", "dut", instance)
	}
	return dut, nil
}

// selfCheckPhases builds the built-in sequence: power on, identify, check
// the rail voltage, sweep the frequency response, then a conditional deep
// check. The returned teardown phase powers the device back off.
func selfCheckPhases(timeout time.Duration, cfg *conf.Config) ([]station.Phase, station.Phase, error) {
	powerOn, err := station.NewPhase("power_on",
		func(run *station.PhaseRun) (station.Verdict, error) {
			dut, err := borrowDUT(run)
			if err != nil {
				return 0, err
			}
			dut.PowerOn()
			run.Data().Set("powered", true)
			run.Logf("device powered on")
			return station.Continue, nil
		},
		station.WithDoc("Apply power to the device and record that it is up."),
		station.WithTimeout(timeout),
		station.RequiresPlug("dut"),
	)
	if err != nil {
		return nil, station.Phase{}, err
	}

	identify, err := station.NewPhase("identify",
		func(run *station.PhaseRun) (station.Verdict, error) {
			dut, err := borrowDUT(run)
			if err != nil {
				return 0, err
			}
			version, err := dut.FirmwareVersion()
			if err != nil {
				return 0, err
			}
			return station.Continue, run.Measurements().Set("firmware_version", version)
		},
		station.WithDoc("Read and validate the firmware version string."),
		station.WithTimeout(timeout),
		station.RequiresPlug("dut"),
		station.Measures(
			measure.New("firmware_version",
				measure.WithDoc("reported firmware version"),
				measure.WithValidators(measure.MatchesRegex(regexp.MustCompile(`^fw-\d+\.\d+\.\d+$`))),
			),
		),
	)
	if err != nil {
		return nil, station.Phase{}, err
	}

	railDecl, err := railVoltageMeasurement(cfg)
	if err != nil {
		return nil, station.Phase{}, err
	}
	railVoltage, err := station.NewPhase("rail_voltage",
		func(run *station.PhaseRun) (station.Verdict, error) {
			dut, err := borrowDUT(run)
			if err != nil {
				return 0, err
			}
			voltage, err := dut.ReadVoltage()
			if err != nil {
				return 0, err
			}
			// repeat until the rail settles near its target
			if voltage < dut.targetVoltage*0.9 {
				run.Logf("rail at %.2fV, not settled; repeating", voltage)
				return station.Repeat, nil
			}
			return station.Continue, run.Measurements().Set("rail_voltage", voltage)
		},
		station.WithDoc("Measure the main rail voltage after settling."),
		station.WithTimeout(timeout),
		station.RequiresPlug("dut"),
		station.Measures(railDecl),
	)
	if err != nil {
		return nil, station.Phase{}, err
	}

	sweep, err := station.NewPhase("frequency_sweep",
		func(run *station.PhaseRun) (station.Verdict, error) {
			dut, err := borrowDUT(run)
			if err != nil {
				return 0, err
			}
			points, err := cfg.GetFloat64("sweep_points")
			if err != nil {
				return 0, err
			}
			for i := 0; i < int(points); i++ {
				if run.Canceled() {
					return 0, run.Context().Err()
				}
				freq := float64((i + 1) * 500)
				gain, err := dut.SweepResponse(freq)
				if err != nil {
					return 0, err
				}
				if err := run.Measurements().SetAt("gain", []interface{}{freq}, gain); err != nil {
					return 0, err
				}
			}
			run.Data().Set("sweep_done", true)
			return station.Continue, nil
		},
		station.WithDoc("Sweep the frequency response and record gain per point."),
		station.WithTimeout(timeout),
		station.RequiresPlug("dut"),
		station.Measures(
			measure.New("gain",
				measure.WithDoc("gain at each sweep frequency"),
				measure.WithDimensions("Hz"),
				measure.WithValidators(measure.ValidatorFunc("all gains in [0.9, 1.1]",
					func(value interface{}) bool {
						elements, ok := value.([]measure.Element)
						if !ok {
							return false
						}
						for _, e := range elements {
							gain, ok := e.Value.(float64)
							if !ok || gain < 0.9 || gain > 1.1 {
								return false
							}
						}
						return true
					})),
			),
		),
	)
	if err != nil {
		return nil, station.Phase{}, err
	}

	deepCheck, err := station.NewPhase("deep_check",
		func(run *station.PhaseRun) (station.Verdict, error) {
			run.Logf("sweep data present; deep check passed")
			return station.Continue, nil
		},
		station.WithDoc("Extended verification, only meaningful after a sweep."),
		station.WithTimeout(timeout),
		station.RunIf(func(data map[string]interface{}) bool {
			done, _ := data["sweep_done"].(bool)
			return done
		}),
	)
	if err != nil {
		return nil, station.Phase{}, err
	}

	teardown, err := station.NewPhase("power_off",
		func(run *station.PhaseRun) (station.Verdict, error) {
			dut, err := borrowDUT(run)
			if err != nil {
				return 0, err
			}
			dut.PowerOff()
			run.Logf("device powered off")
			return station.Continue, nil
		},
		station.WithDoc("Remove power from the device."),
		station.WithTimeout(timeout),
		station.RequiresPlug("dut"),
	)
	if err != nil {
		return nil, station.Phase{}, err
	}

	return []station.Phase{powerOn, identify, railVoltage, sweep, deepCheck}, teardown, nil
}

func railVoltageMeasurement(cfg *conf.Config) (measure.Declaration, error) {
	target, err := cfg.GetFloat64("target_voltage")
	if err != nil {
		return measure.Declaration{}, err
	}
	tolerance, err := cfg.GetFloat64("voltage_tolerance")
	if err != nil {
		return measure.Declaration{}, err
	}
	return measure.New("rail_voltage",
		measure.WithDoc("main rail voltage"),
		measure.WithUnits("V"),
		measure.WithValidators(measure.Between(target-tolerance, target+tolerance)),
	), nil
}
