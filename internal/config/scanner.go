// Package config loads the scanner configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/ballot.scanner/internal/orchestrator"
	"github.com/banshee-data/ballot.scanner/internal/serialmux"
)

// Transports supported for the scanner link.
const (
	TransportSerial     = "serial"
	TransportPlustekctl = "plustekctl"
)

const (
	DefaultDBPath         = "ballot_scanner.db"
	DefaultPlustekctlPath = "/usr/local/bin/plustekctl"
	DefaultScannerID      = "scanner-1"
	DefaultBatchLabel     = "Batch 1"
	DefaultImageWidth     = 600
)

// ScannerConfig is the scanner configuration file. Every field is optional;
// the Get* methods supply defaults for fields left out of the JSON.
type ScannerConfig struct {
	// Delays, as duration strings like "500ms".
	PollingInterval   *string `json:"polling_interval,omitempty"`
	PollTimeout       *string `json:"poll_timeout,omitempty"`
	ScanTimeout       *string `json:"scan_timeout,omitempty"`
	AcceptTimeout     *string `json:"accept_timeout,omitempty"`
	AcceptedDwell     *string `json:"accepted_dwell,omitempty"`
	WaitForHold       *string `json:"wait_for_hold,omitempty"`
	ReconnectDelay    *string `json:"reconnect_delay,omitempty"`
	UnexpectedCoolOff *string `json:"unexpected_cool_off,omitempty"`

	// Scanner link
	Transport      *string                `json:"transport,omitempty"`
	DevicePath     *string                `json:"device_path,omitempty"`
	PlustekctlPath *string                `json:"plustekctl_path,omitempty"`
	Serial         *serialmux.PortOptions `json:"serial,omitempty"`

	// Election and storage
	ElectionPath           *string `json:"election_path,omitempty"`
	DBPath                 *string `json:"db_path,omitempty"`
	ScannerID              *string `json:"scanner_id,omitempty"`
	BatchLabel             *string `json:"batch_label,omitempty"`
	InterpreterFixturesDir *string `json:"interpreter_fixtures_dir,omitempty"`
	BallotImages           *bool   `json:"ballot_images,omitempty"`
	BallotImageWidth       *int    `json:"ballot_image_width,omitempty"`
}

func ptrString(v string) *string { return &v }

// EmptyScannerConfig returns a ScannerConfig with all fields set to nil.
func EmptyScannerConfig() *ScannerConfig {
	return &ScannerConfig{}
}

// LoadScannerConfig loads a ScannerConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadScannerConfig(path string) (*ScannerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyScannerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ScannerConfig) Validate() error {
	durations := []struct {
		name  string
		value *string
	}{
		{"polling_interval", c.PollingInterval},
		{"poll_timeout", c.PollTimeout},
		{"scan_timeout", c.ScanTimeout},
		{"accept_timeout", c.AcceptTimeout},
		{"accepted_dwell", c.AcceptedDwell},
		{"wait_for_hold", c.WaitForHold},
		{"reconnect_delay", c.ReconnectDelay},
		{"unexpected_cool_off", c.UnexpectedCoolOff},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
	}

	switch t := c.GetTransport(); t {
	case TransportSerial:
		if c.GetDevicePath() == "" {
			return fmt.Errorf("device_path is required for the %s transport", t)
		}
		if c.Serial != nil {
			if _, err := c.Serial.Normalize(); err != nil {
				return fmt.Errorf("invalid serial options: %w", err)
			}
		}
	case TransportPlustekctl:
	default:
		return fmt.Errorf("unknown transport %q: expected %s or %s", t, TransportSerial, TransportPlustekctl)
	}

	if c.BallotImageWidth != nil && *c.BallotImageWidth <= 0 {
		return fmt.Errorf("ballot_image_width must be positive, got %d", *c.BallotImageWidth)
	}
	return nil
}

func duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetDelays returns the state machine timings, falling back to
// orchestrator.DefaultDelays for each one not set.
func (c *ScannerConfig) GetDelays() orchestrator.Delays {
	def := orchestrator.DefaultDelays()
	return orchestrator.Delays{
		PollInterval:      duration(c.PollingInterval, def.PollInterval),
		PollTimeout:       duration(c.PollTimeout, def.PollTimeout),
		ScanTimeout:       duration(c.ScanTimeout, def.ScanTimeout),
		AcceptTimeout:     duration(c.AcceptTimeout, def.AcceptTimeout),
		AcceptedDwell:     duration(c.AcceptedDwell, def.AcceptedDwell),
		WaitForHold:       duration(c.WaitForHold, def.WaitForHold),
		Reconnect:         duration(c.ReconnectDelay, def.Reconnect),
		UnexpectedCoolOff: duration(c.UnexpectedCoolOff, def.UnexpectedCoolOff),
	}
}

// GetTransport returns the transport or plustekctl.
func (c *ScannerConfig) GetTransport() string {
	if c.Transport == nil || *c.Transport == "" {
		return TransportPlustekctl
	}
	return *c.Transport
}

// GetDevicePath returns the serial device path, if any.
func (c *ScannerConfig) GetDevicePath() string {
	if c.DevicePath == nil {
		return ""
	}
	return *c.DevicePath
}

// GetPlustekctlPath returns the driver binary path or the default.
func (c *ScannerConfig) GetPlustekctlPath() string {
	if c.PlustekctlPath == nil || *c.PlustekctlPath == "" {
		return DefaultPlustekctlPath
	}
	return *c.PlustekctlPath
}

// GetSerial returns the serial port options, normalized.
func (c *ScannerConfig) GetSerial() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	if n, err := opts.Normalize(); err == nil {
		return n
	}
	return opts
}

// GetElectionPath returns the election definition path, if any.
func (c *ScannerConfig) GetElectionPath() string {
	if c.ElectionPath == nil {
		return ""
	}
	return *c.ElectionPath
}

// GetDBPath returns the database path or the default.
func (c *ScannerConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetScannerID returns the scanner id written into cast vote records.
func (c *ScannerConfig) GetScannerID() string {
	if c.ScannerID == nil || *c.ScannerID == "" {
		return DefaultScannerID
	}
	return *c.ScannerID
}

// GetBatchLabel returns the label of new batches.
func (c *ScannerConfig) GetBatchLabel() string {
	if c.BatchLabel == nil || *c.BatchLabel == "" {
		return DefaultBatchLabel
	}
	return *c.BatchLabel
}

// GetInterpreterFixturesDir returns the directory of interpretation
// sidecars. Empty means next to each image.
func (c *ScannerConfig) GetInterpreterFixturesDir() string {
	if c.InterpreterFixturesDir == nil {
		return ""
	}
	return *c.InterpreterFixturesDir
}

// GetBallotImages reports whether ballot images are inlined into cast vote
// records.
func (c *ScannerConfig) GetBallotImages() bool {
	if c.BallotImages == nil {
		return false
	}
	return *c.BallotImages
}

// GetBallotImageWidth returns the width inline images are scaled to.
func (c *ScannerConfig) GetBallotImageWidth() int {
	if c.BallotImageWidth == nil {
		return DefaultImageWidth
	}
	return *c.BallotImageWidth
}

// SetDBPath overrides the database path, as the -db-path flag does.
func (c *ScannerConfig) SetDBPath(path string) {
	c.DBPath = ptrString(path)
}
