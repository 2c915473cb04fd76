// Package config loads simulation scenarios from YAML. Values are layered:
// built-in defaults, then the file, then RAN_* / LOG_* environment overrides,
// and the result is validated before use.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/logging"
	"github.com/signalsfoundry/nr-ran-simulator/internal/nrhelper"
	"github.com/signalsfoundry/nr-ran-simulator/internal/observability"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config.Duration: failed to parse %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is a complete simulation scenario.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Spectrum   SpectrumConfig   `yaml:"spectrum"`
	Radio      RadioConfig      `yaml:"radio"`
	Nodes      NodesConfig      `yaml:"nodes"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Storage    StorageConfig    `yaml:"storage"`
}

// SimulationConfig controls the run and its traffic.
type SimulationConfig struct {
	Duration Duration `yaml:"duration"`
	Realtime bool     `yaml:"realtime"`
	Tick     Duration `yaml:"tick"`

	// One downlink packet of PacketSize bytes is sent on every carrier at
	// PacketTime, repeated Packets times one slot apart.
	PacketTime Duration `yaml:"packetTime"`
	PacketSize uint32   `yaml:"packetSize"`
	Packets    int      `yaml:"packets"`
	Uplink     bool     `yaml:"uplink"`
}

// SpectrumConfig lists the operation bands.
type SpectrumConfig struct {
	Bands []BandConfig `yaml:"bands"`
}

// BandConfig describes one operation band. When ContiguousCcs is set the
// band is split into that many equal carriers and Carriers is ignored.
type BandConfig struct {
	CentralFrequencyHz float64         `yaml:"centralFrequencyHz"`
	BandwidthHz        float64         `yaml:"bandwidthHz"`
	ContiguousCcs      int             `yaml:"contiguousCcs"`
	Carriers           []CarrierConfig `yaml:"carriers"`
}

// CarrierConfig describes one component carrier.
type CarrierConfig struct {
	ID                 uint8       `yaml:"id"`
	Primary            bool        `yaml:"primary"`
	CentralFrequencyHz float64     `yaml:"centralFrequencyHz"`
	BandwidthHz        float64     `yaml:"bandwidthHz"`
	ActiveBwp          uint8       `yaml:"activeBwp"`
	Bwps               []BwpConfig `yaml:"bwps"`
}

// BwpConfig describes one bandwidth part.
type BwpConfig struct {
	ID                 uint8   `yaml:"id"`
	Numerology         uint8   `yaml:"numerology"`
	CentralFrequencyHz float64 `yaml:"centralFrequencyHz"`
	BandwidthHz        float64 `yaml:"bandwidthHz"`
}

// RadioConfig holds the radio parameters shared by every device.
type RadioConfig struct {
	GnbTxPowerDBm          float64 `yaml:"gnbTxPowerDbm"`
	UeTxPowerDBm           float64 `yaml:"ueTxPowerDbm"`
	GnbAntennaGainDBi      float64 `yaml:"gnbAntennaGainDbi"`
	UeAntennaGainDBi       float64 `yaml:"ueAntennaGainDbi"`
	NoiseFigureDB          float64 `yaml:"noiseFigureDb"`
	PropagationModel       string  `yaml:"propagationModel"`
	PropagationDelay       bool    `yaml:"propagationDelay"`
	Mcs                    uint8   `yaml:"mcs"`
	CcaThresholdDBm        float64 `yaml:"ccaThresholdDbm"`
	Harq                   bool    `yaml:"harq"`
	ErrorModel             bool    `yaml:"errorModel"`
	EnableAllInterferences bool    `yaml:"enableAllInterferences"`
	Seed                   int64   `yaml:"seed"`
	Scheduler              string  `yaml:"scheduler"`
}

// Position is a point in metres.
type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Vec3 converts p to the geometry type.
func (p Position) Vec3() core.Vec3 { return core.Vec3{X: p.X, Y: p.Y, Z: p.Z} }

// NodesConfig places the devices. UEs attach to the closest gNB.
type NodesConfig struct {
	Gnbs []Position `yaml:"gnbs"`
	Ues  []Position `yaml:"ues"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"maxSizeMb"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

type StorageConfig struct {
	TraceDB string `yaml:"traceDb"`
}

// Default returns the two bandwidth part FDM scenario: one 200 MHz band at
// 28.1 GHz split into a numerology 4 carrier and a numerology 2 carrier,
// one gNB and one UE 10 m apart.
func Default() *Config {
	radio := nrhelper.DefaultConfig()
	return &Config{
		Simulation: SimulationConfig{
			Duration:   Duration(time.Second),
			Tick:       Duration(time.Millisecond),
			PacketTime: Duration(400 * time.Millisecond),
			PacketSize: 1000,
			Packets:    1,
		},
		Spectrum: SpectrumConfig{Bands: []BandConfig{{
			CentralFrequencyHz: 28.1e9,
			BandwidthHz:        200e6,
			Carriers: []CarrierConfig{
				{
					ID: 0, Primary: true, CentralFrequencyHz: 28.05e9, BandwidthHz: 100e6, ActiveBwp: 0,
					Bwps: []BwpConfig{{ID: 0, Numerology: 4, CentralFrequencyHz: 28.05e9, BandwidthHz: 100e6}},
				},
				{
					ID: 1, CentralFrequencyHz: 28.15e9, BandwidthHz: 100e6, ActiveBwp: 1,
					Bwps: []BwpConfig{{ID: 1, Numerology: 2, CentralFrequencyHz: 28.15e9, BandwidthHz: 100e6}},
				},
			},
		}}},
		Radio: RadioConfig{
			GnbTxPowerDBm:          radio.GnbTxPowerDBm,
			UeTxPowerDBm:           radio.UeTxPowerDBm,
			GnbAntennaGainDBi:      radio.GnbAntennaGainDBi,
			UeAntennaGainDBi:       radio.UeAntennaGainDBi,
			NoiseFigureDB:          radio.NoiseFigureDB,
			PropagationModel:       radio.PropagationModel,
			PropagationDelay:       radio.PropagationDelay,
			Mcs:                    radio.Mcs,
			CcaThresholdDBm:        radio.CcaThresholdDBm,
			Harq:                   radio.HarqEnabled,
			ErrorModel:             radio.DataErrorModelEnabled,
			EnableAllInterferences: radio.EnableAllInterferences,
			Seed:                   radio.Seed,
			Scheduler:              nrhelper.FullBandSchedulerName,
		},
		Nodes: NodesConfig{
			Gnbs: []Position{{X: 0, Y: 0, Z: 10}},
			Ues:  []Position{{X: 0, Y: 10, Z: 1.5}},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{Exporter: "stdout", ServiceName: "nr-ran-simulator", SampleRatio: 1},
	}
}

// Helper converts the radio section to helper parameters.
func (c *Config) Helper() nrhelper.Config {
	r := c.Radio
	return nrhelper.Config{
		GnbTxPowerDBm:          r.GnbTxPowerDBm,
		UeTxPowerDBm:           r.UeTxPowerDBm,
		GnbAntennaGainDBi:      r.GnbAntennaGainDBi,
		UeAntennaGainDBi:       r.UeAntennaGainDBi,
		NoiseFigureDB:          r.NoiseFigureDB,
		PropagationModel:       r.PropagationModel,
		PropagationDelay:       r.PropagationDelay,
		Mcs:                    r.Mcs,
		CcaThresholdDBm:        r.CcaThresholdDBm,
		HarqEnabled:            r.Harq,
		DataErrorModelEnabled:  r.ErrorModel,
		EnableAllInterferences: r.EnableAllInterferences,
		Seed:                   r.Seed,
	}
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		File:      c.Logging.File,
		MaxSizeMB: c.Logging.MaxSizeMB,
	}
}

// TracerConfig converts the tracing section.
func (c *Config) TracerConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
