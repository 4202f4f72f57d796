// Package config loads and validates sentineld's configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/idswatch/sentinel/internal/security"
)

// Config is the full runtime configuration for sentineld, loaded from a
// single TOML file.
type Config struct {
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
	AdminAddress  string `toml:"admin_address"`
	ParserName    string `toml:"parser_name"`
	Debug         bool   `toml:"debug"`

	UDPRateLimit float64 `toml:"udp_rate_limit"`
	UDPBurstSize int     `toml:"udp_burst_size"`

	AlertCooldownSecs int `toml:"alert_cooldown_secs"`

	FastScan   ScanThreshold     `toml:"fast_scan"`
	SlowScan   SlowScanThreshold `toml:"slow_scan"`
	AcceptScan ScanThreshold     `toml:"accept_scan"`

	MaxHitsPerIP  int `toml:"max_hits_per_ip"`
	MaxTrackedIPs int `toml:"max_tracked_ips"`

	Cleanup CleanupConfig `toml:"cleanup"`
	SIEM    SIEMConfig    `toml:"siem"`
	Email   EmailConfig   `toml:"email"`
}

// ScanThreshold configures the fast and accept detector windows.
type ScanThreshold struct {
	PortThreshold  int `toml:"port_threshold"`
	TimeWindowSecs int `toml:"time_window_secs"`
}

// SlowScanThreshold configures the slow-scan detector window. Unlike
// FastScan/AcceptScan, the operator-facing unit is minutes: slow scans are
// evaluated over a window long enough that seconds are an awkward unit to
// hand-edit in a TOML file.
type SlowScanThreshold struct {
	PortThreshold  int `toml:"port_threshold"`
	TimeWindowMins int `toml:"time_window_mins"`
}

// TimeWindowSecs converts the configured minute window to seconds, the unit
// every other window and the detector's own API use internally.
func (s SlowScanThreshold) TimeWindowSecs() int {
	return s.TimeWindowMins * 60
}

// CleanupConfig controls the periodic detector-state reaper.
type CleanupConfig struct {
	IntervalSecs    int `toml:"interval_secs"`
	MaxEntryAgeSecs int `toml:"max_entry_age_secs"`
}

// SIEMConfig is the CEF-over-UDP destination for alerts.
type SIEMConfig struct {
	Address  string `toml:"address"`
	Port     int    `toml:"port"`
	Hostname string `toml:"hostname"` // CEF syslog header host field; defaults to "ids-rs"
}

// EmailConfig is the optional SMTP alert path.
type EmailConfig struct {
	Enabled    bool     `toml:"enabled"`
	SMTPHost   string   `toml:"smtp_host"`
	SMTPPort   int      `toml:"smtp_port"`
	Username   string   `toml:"username"`
	Password   string   `toml:"password"`
	From       string   `toml:"from"`
	To         []string `toml:"to"`
	TLSEnabled bool     `toml:"tls_enabled"`
}

// Default values applied when a TOML file omits a field.
const (
	DefaultMaxHitsPerIP  = 10000
	DefaultMaxTrackedIPs = 100000
	DefaultParserName    = "gaia"
)

// Load reads path as TOML, applies defaults, and validates the result as a
// batch — every violation is collected and reported together rather than
// failing on the first, matching the teacher's config.Validate convention.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	v := security.NewValidator()
	c.ListenAddress = v.SanitizeInput(c.ListenAddress)
	c.ParserName = v.SanitizeInput(c.ParserName)
	c.SIEM.Address = v.SanitizeInput(c.SIEM.Address)
	c.SIEM.Hostname = v.SanitizeInput(c.SIEM.Hostname)

	if c.ParserName == "" {
		c.ParserName = DefaultParserName
	}
	if c.MaxHitsPerIP == 0 {
		c.MaxHitsPerIP = DefaultMaxHitsPerIP
	}
	if c.MaxTrackedIPs == 0 {
		c.MaxTrackedIPs = DefaultMaxTrackedIPs
	}
	if c.AdminAddress == "" {
		c.AdminAddress = "127.0.0.1:9090"
	}
}

// Validate collects every configuration violation and returns them joined,
// instead of stopping at the first one found.
func (c *Config) Validate() error {
	var errs []error
	validator := security.NewValidator()

	if c.ListenAddress == "" {
		errs = append(errs, errors.New("listen_address must not be empty"))
	} else if !validator.ValidateIP(c.ListenAddress) {
		errs = append(errs, fmt.Errorf("listen_address %q is not a valid IPv4 address", c.ListenAddress))
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("listen_port %d out of range", c.ListenPort))
	}
	if c.ParserName != "gaia" && c.ParserName != "cef" {
		errs = append(errs, fmt.Errorf("parser_name %q is not one of gaia, cef", c.ParserName))
	}
	if c.UDPRateLimit < 0 {
		errs = append(errs, errors.New("udp_rate_limit must not be negative"))
	}
	if c.UDPBurstSize < 0 {
		errs = append(errs, errors.New("udp_burst_size must not be negative"))
	}
	if c.UDPRateLimit > 0 && c.UDPBurstSize < 1 {
		errs = append(errs, errors.New("udp_burst_size must be at least 1 when udp_rate_limit is greater than 0"))
	}
	if c.AlertCooldownSecs < 0 {
		errs = append(errs, errors.New("alert_cooldown_secs must not be negative"))
	}

	errs = append(errs, c.FastScan.validate("fast_scan")...)
	errs = append(errs, c.SlowScan.validate("slow_scan")...)
	errs = append(errs, c.AcceptScan.validate("accept_scan")...)

	if c.SlowScan.TimeWindowMins > 0 && c.FastScan.TimeWindowSecs > 0 &&
		c.SlowScan.TimeWindowSecs() <= c.FastScan.TimeWindowSecs {
		errs = append(errs, errors.New("slow_scan.time_window_mins must yield a window strictly greater than fast_scan.time_window_secs"))
	}

	if c.MaxHitsPerIP <= 0 {
		errs = append(errs, errors.New("max_hits_per_ip must be positive"))
	}
	if c.MaxTrackedIPs <= 0 {
		errs = append(errs, errors.New("max_tracked_ips must be positive"))
	}

	if c.Cleanup.IntervalSecs <= 0 {
		errs = append(errs, errors.New("cleanup.interval_secs must be positive"))
	}
	if c.Cleanup.MaxEntryAgeSecs < c.SlowScan.TimeWindowSecs() {
		errs = append(errs, errors.New("cleanup.max_entry_age_secs must be at least the slow_scan window"))
	}

	if c.SIEM.Address == "" {
		errs = append(errs, errors.New("siem.address must not be empty"))
	} else if !validator.ValidateHostPort(fmt.Sprintf("%s:%d", c.SIEM.Address, c.SIEM.Port)) {
		errs = append(errs, fmt.Errorf("siem address %s:%d is invalid", c.SIEM.Address, c.SIEM.Port))
	}

	if c.Email.Enabled {
		if c.Email.SMTPHost == "" {
			errs = append(errs, errors.New("email.smtp_host must not be empty when email.enabled is true"))
		}
		if c.Email.SMTPPort <= 0 || c.Email.SMTPPort > 65535 {
			errs = append(errs, fmt.Errorf("email.smtp_port %d out of range", c.Email.SMTPPort))
		}
		if c.Email.From == "" {
			errs = append(errs, errors.New("email.from must not be empty when email.enabled is true"))
		}
		if len(c.Email.To) == 0 {
			errs = append(errs, errors.New("email.to must not be empty when email.enabled is true"))
		}
	}

	return errors.Join(errs...)
}

func (s ScanThreshold) validate(name string) []error {
	var errs []error
	if s.PortThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%s.port_threshold must be positive", name))
	}
	if s.TimeWindowSecs <= 0 {
		errs = append(errs, fmt.Errorf("%s.time_window_secs must be positive", name))
	}
	return errs
}

func (s SlowScanThreshold) validate(name string) []error {
	var errs []error
	if s.PortThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%s.port_threshold must be positive", name))
	}
	if s.TimeWindowMins <= 0 {
		errs = append(errs, fmt.Errorf("%s.time_window_mins must be positive", name))
	}
	return errs
}
