// Package config loads node settings from config.json, the environment and flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"gitlab.com/lologarithm/cloudthermo/alert"
	"gitlab.com/lologarithm/cloudthermo/climate"
)

// Environment overrides for secrets.
const (
	EnvAPIKey      = "CLOUDTHERMO_API_KEY"
	EnvDatabaseURL = "CLOUDTHERMO_DATABASE_URL"
)

// Duration reads "60s" style strings or plain milliseconds from json.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		d.Duration = time.Duration(ms) * time.Millisecond
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Pins are BCM gpio numbers.
type Pins struct {
	DHT      int
	LedGreen int
	LedRed   int
	RGB      [3]int // red, green, blue
}

// Config is node configuration.
// Includes the remote database credentials as well as Mailgun config to send warning emails.
type Config struct {
	Name        string
	DatabaseURL string
	APIKey      string
	AuthRetry   Duration // minimum time between sign-up or refresh attempts
	WiFiSSID    string   // informational, the os joins the network

	NTPServer      string
	GMTOffset      int // seconds
	DaylightOffset int // seconds

	SensorInterval   Duration
	ActuatorInterval Duration

	Pins    Pins
	PWMFreq int

	StatusAddr   string // empty disables the status server
	Announce     bool
	AnnounceAddr string

	Mailgun    alert.MailgunConfig
	AlertEvery Duration

	Comfort  climate.Thresholds
	LogLevel string
}

// Default mirrors the original devices.
func Default() Config {
	return Config{
		Name:             "cloudthermo",
		AuthRetry:        Duration{30 * time.Second},
		NTPServer:        "pool.ntp.org",
		GMTOffset:        3600,
		DaylightOffset:   3600,
		SensorInterval:   Duration{60 * time.Second},
		ActuatorInterval: Duration{3 * time.Second},
		Pins: Pins{
			DHT:      4,
			LedGreen: 5,
			LedRed:   6,
			RGB:      [3]int{12, 13, 16},
		},
		PWMFreq:    5000,
		AlertEvery: Duration{time.Hour},
		Comfort:    climate.DefaultThresholds,
		LogLevel:   "info",
	}
}

// Load reads path over the defaults. A missing file returns the defaults
// along with an error wrapping os.ErrNotExist.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.DatabaseURL = v
	}
}

// RegisterFlags defines the command line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("name", d.Name, "name of this node")
	fs.String("database-url", "", "realtime database url")
	fs.String("api-key", "", "web api key used for anonymous sign up")
	fs.String("ntp-server", d.NTPServer, "ntp server")
	fs.Duration("sensor-interval", d.SensorInterval.Duration, "how often to send a thermometer reading")
	fs.Duration("actuator-interval", d.ActuatorInterval.Duration, "how often to poll actuator commands")
	fs.Int("dht-pin", d.Pins.DHT, "input pin to read for temp")
	fs.String("status-addr", "", "host:port for the status page, empty to disable")
	fs.Bool("announce", false, "announce records on the refuge multicast group")
	fs.String("log-level", d.LogLevel, "log level")
}

// ApplyFlags copies every flag that was set on the command line.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var errs []error
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, err := fs.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	dur := func(name string, dst *Duration) {
		if fs.Changed(name) {
			v, err := fs.GetDuration(name)
			errs = append(errs, err)
			dst.Duration = v
		}
	}
	str("name", &c.Name)
	str("database-url", &c.DatabaseURL)
	str("api-key", &c.APIKey)
	str("ntp-server", &c.NTPServer)
	str("status-addr", &c.StatusAddr)
	str("log-level", &c.LogLevel)
	dur("sensor-interval", &c.SensorInterval)
	dur("actuator-interval", &c.ActuatorInterval)
	if fs.Changed("dht-pin") {
		v, err := fs.GetInt("dht-pin")
		errs = append(errs, err)
		c.Pins.DHT = v
	}
	if fs.Changed("announce") {
		v, err := fs.GetBool("announce")
		errs = append(errs, err)
		c.Announce = v
	}
	return errors.Join(errs...)
}

// Validate checks everything needed to start.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("database url is required"))
	}
	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, errors.New("api key is required"))
	}
	if c.SensorInterval.Duration <= 0 || c.ActuatorInterval.Duration <= 0 {
		errs = append(errs, errors.New("intervals must be positive"))
	}
	if c.SensorInterval.Milliseconds() > 1<<32-1 || c.ActuatorInterval.Milliseconds() > 1<<32-1 {
		errs = append(errs, errors.New("intervals must fit in 32 bit milliseconds"))
	}
	if c.AuthRetry.Duration <= 0 {
		errs = append(errs, errors.New("auth retry must be positive"))
	}
	if c.PWMFreq <= 0 {
		errs = append(errs, errors.New("pwm frequency must be positive"))
	}
	return errors.Join(errs...)
}
