package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/channel"
	"github.com/signalsfoundry/nr-ran-simulator/model"
)

// MaxMcs is the highest MCS index of the error model table.
const MaxMcs = 28

// Load returns the defaults overlaid with the YAML file at path (when
// non-empty) and with environment overrides, validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays data onto cfg. Unknown keys are rejected.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides applies RAN_* and LOG_* variables. Malformed values
// are errors rather than silently ignored.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("RAN_SIM_DURATION"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RAN_SIM_DURATION: %w", err)
		}
		cfg.Simulation.Duration = Duration(d)
	}
	if v, ok := lookup("RAN_SIM_REALTIME"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RAN_SIM_REALTIME: %w", err)
		}
		cfg.Simulation.Realtime = b
	}
	if v, ok := lookup("RAN_PROPAGATION_MODEL"); ok && v != "" {
		cfg.Radio.PropagationModel = strings.ToLower(v)
	}
	if v, ok := lookup("RAN_MCS"); ok && v != "" {
		mcs, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return fmt.Errorf("RAN_MCS: %w", err)
		}
		cfg.Radio.Mcs = uint8(mcs)
	}
	if v, ok := lookup("RAN_SEED"); ok && v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("RAN_SEED: %w", err)
		}
		cfg.Radio.Seed = seed
	}
	if v, ok := lookup("RAN_METRICS_ADDR"); ok {
		cfg.Metrics.Addr = v
	}
	if v, ok := lookup("RAN_TRACE_DB"); ok {
		cfg.Storage.TraceDB = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		cfg.Logging.Format = v
	}
	if v, ok := lookup("LOG_FILE"); ok && v != "" {
		cfg.Logging.File = v
	}
	return nil
}

// Validate checks the scenario, including the spectrum partition. Every
// failure is a *core.ConfigError.
func (c *Config) Validate() error {
	const op = "config.Validate"

	sim := c.Simulation
	switch {
	case sim.Duration <= 0:
		return core.NewConfigError(op, fmt.Errorf("simulation duration must be positive, got %s", sim.Duration.Std()))
	case sim.Tick <= 0:
		return core.NewConfigError(op, fmt.Errorf("tick must be positive, got %s", sim.Tick.Std()))
	case sim.Packets < 0:
		return core.NewConfigError(op, fmt.Errorf("packets must not be negative, got %d", sim.Packets))
	case sim.Packets > 0 && sim.PacketTime >= sim.Duration:
		return core.NewConfigError(op, fmt.Errorf("packet time %s is not before the end of the run %s",
			sim.PacketTime.Std(), sim.Duration.Std()))
	case sim.Packets > 0 && sim.PacketSize == 0:
		return core.NewConfigError(op, errors.New("packet size must be positive"))
	}

	if c.Radio.Mcs > MaxMcs {
		return core.NewConfigError(op, fmt.Errorf("mcs %d above %d", c.Radio.Mcs, MaxMcs))
	}
	if _, ok := channel.LossModelByName(c.Radio.PropagationModel); !ok {
		return core.NewConfigError(op, fmt.Errorf("%w: propagation model %q", core.ErrNotFound, c.Radio.PropagationModel))
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		return core.NewConfigError(op, fmt.Errorf("tracing sample ratio %g outside [0, 1]", r))
	}
	if len(c.Nodes.Gnbs) == 0 {
		return core.NewConfigError(op, errors.New("at least one gnb is required"))
	}

	_, err := BuildTopology(c.Spectrum)
	return err
}

// BuildTopology creates and validates the spectrum topology described by
// s.
func BuildTopology(s SpectrumConfig) (*core.Topology, error) {
	topo := core.NewTopology()
	for i, b := range s.Bands {
		if b.ContiguousCcs > 0 {
			if _, err := topo.CreateOperationBandContiguousCc(b.CentralFrequencyHz, b.BandwidthHz, b.ContiguousCcs); err != nil {
				return nil, fmt.Errorf("band %d: %w", i, err)
			}
			continue
		}

		carriers := make([]model.ComponentCarrierInfo, 0, len(b.Carriers))
		for _, c := range b.Carriers {
			role := model.Secondary
			if c.Primary {
				role = model.Primary
			}
			cc := model.NewComponentCarrier(c.ID, role, c.CentralFrequencyHz, c.BandwidthHz)
			cc.ActiveBwp = c.ActiveBwp
			for _, bwp := range c.Bwps {
				if err := cc.AddBwp(model.NewBandwidthPart(bwp.ID, bwp.Numerology, bwp.CentralFrequencyHz, bwp.BandwidthHz)); err != nil {
					return nil, core.NewConfigError("BuildTopology", err)
				}
			}
			carriers = append(carriers, cc)
		}
		if _, err := topo.CreateOperationBand(b.CentralFrequencyHz, b.BandwidthHz, carriers); err != nil {
			return nil, fmt.Errorf("band %d: %w", i, err)
		}
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return topo, nil
}
