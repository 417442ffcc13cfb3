package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration, loaded from YAML
// per subsystem, following the teacher's nested-config style.
type Config struct {
	Tuner      TunerConfig      `yaml:"tuner"`
	Server     ServerConfig     `yaml:"server"`
	DSP        DSPConfig        `yaml:"dsp"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Decoder    DecoderConfig    `yaml:"decoder"`
	Recording  RecordingConfig  `yaml:"recording"`
	Logging    LoggingConfig    `yaml:"logging"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Bookmarks  []Bookmark       `yaml:"bookmarks"`
}

// TunerConfig contains rtl_tcp connection settings (§4.A).
type TunerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CenterFreq uint64 `yaml:"center_freq"`
	GainTenths int    `yaml:"gain_tenths"`
	AGC        bool   `yaml:"agc"`
}

// ServerConfig contains websocket/HTTP listen settings and
// per-subscriber rate limiting (§6).
type ServerConfig struct {
	Listen         string  `yaml:"listen"`
	CmdRateLimit   float64 `yaml:"cmd_rate_limit"`   // commands/sec per subscriber, via golang.org/x/time/rate
	CmdBurst       int     `yaml:"cmd_burst"`
	CompressFrames bool    `yaml:"compress_frames"` // zstd-compress binary spectrum/audio frames
}

// DSPConfig contains initial demodulation and squelch settings (§4.C).
type DSPConfig struct {
	Mode             string  `yaml:"mode"`
	SquelchThreshold float32 `yaml:"squelch_threshold"`
}

// ScannerConfig contains scan timing defaults (§4.E).
type ScannerConfig struct {
	DwellMS     int     `yaml:"dwell_ms"`
	ResumeDelay float64 `yaml:"resume_delay"`
}

// DecoderConfig contains POCSAG decoder settings (§4.D).
type DecoderConfig struct {
	PocsagEnabled bool `yaml:"pocsag_enabled"`
}

// RecordingConfig contains the recordings directory setting (§6). The
// recorders write to the path given in the START_*_RECORD command;
// OutputDir is not applied to that path.
type RecordingConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// LoggingConfig mirrors the teacher's logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
}

// PrometheusConfig contains metrics endpoint settings (§10).
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// MQTTConfig contains optional MQTT republishing settings (§11 domain
// stack), grounded on the teacher's mqtt_publisher.go.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// LoadConfig loads configuration from a YAML file and applies defaults
// for any zero-valued fields, following the teacher's LoadConfig pattern.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Tuner.Host == "" {
		c.Tuner.Host = "127.0.0.1"
	}
	if c.Tuner.Port == 0 {
		c.Tuner.Port = 1234
	}
	if c.Tuner.CenterFreq == 0 {
		c.Tuner.CenterFreq = 100_000_000
	}
	if c.Tuner.GainTenths == 0 {
		c.Tuner.GainTenths = 400
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.CmdRateLimit == 0 {
		c.Server.CmdRateLimit = 10
	}
	if c.Server.CmdBurst == 0 {
		c.Server.CmdBurst = 20
	}
	if c.DSP.Mode == "" {
		c.DSP.Mode = string(ModeFM)
	}
	if c.DSP.SquelchThreshold == 0 {
		c.DSP.SquelchThreshold = -60
	}
	if c.Scanner.DwellMS == 0 {
		c.Scanner.DwellMS = 100
	}
	if c.Scanner.ResumeDelay == 0 {
		c.Scanner.ResumeDelay = 2.0
	}
	if c.Recording.OutputDir == "" {
		c.Recording.OutputDir = "recordings"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Prometheus.Listen == "" {
		c.Prometheus.Listen = ":9090"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "evilsdr"
	}
	// Decoder.PocsagEnabled keeps its zero value (off) when unset; the
	// TOGGLE_POCSAG websocket command changes it at runtime.
}
