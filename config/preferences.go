// Package config loads the user preferences that size the scheduler.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	frameloop "github.com/Swind/go-frameloop"
)

// ErrInvalidPreferences wraps every validation failure.
var ErrInvalidPreferences = errors.New("invalid preferences")

// Preferences are read once at startup.
type Preferences struct {
	// MaxWorkerThreads caps concurrent worker jobs; 0 means unbounded.
	MaxWorkerThreads int `yaml:"max_worker_threads" validate:"gte=0,lte=1024"`

	UpdateRateHz float64 `yaml:"update_rate_hz" validate:"gt=0,lte=1000"`
	RenderRateHz float64 `yaml:"render_rate_hz" validate:"gt=0,lte=1000"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	// MetricsAddr enables the Prometheus endpoint when set, e.g. "127.0.0.1:2112".
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Default returns the preferences used when no file is given.
func Default() Preferences {
	return Preferences{
		MaxWorkerThreads: 16,
		UpdateRateHz:     60,
		RenderRateHz:     60,
		ShutdownTimeout:  10 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (Preferences, error) {
	if path == "" {
		return Default(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Preferences{}, fmt.Errorf("open preferences: %w", err)
	}
	defer f.Close()

	prefs, err := Parse(f)
	if err != nil {
		return Preferences{}, fmt.Errorf("load %s: %w", path, err)
	}
	return prefs, nil
}

// Parse decodes YAML from r over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(r io.Reader) (Preferences, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Preferences{}, fmt.Errorf("read preferences: %w", err)
	}

	prefs := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&prefs); err != nil {
			return Preferences{}, fmt.Errorf("decode preferences: %w", err)
		}
	}

	if err := prefs.Validate(); err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its bounds.
func (p Preferences) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidPreferences, fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidPreferences, err)
	}
	return nil
}

// AppConfig converts the preferences into the scheduler configuration.
func (p Preferences) AppConfig() frameloop.Config {
	cfg := frameloop.DefaultConfig()
	cfg.MaxWorkerThreads = p.MaxWorkerThreads
	cfg.UpdatePeriod = periodOf(p.UpdateRateHz)
	cfg.RenderPeriod = periodOf(p.RenderRateHz)
	cfg.ShutdownTimeout = p.ShutdownTimeout
	return cfg
}

func periodOf(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// Marshal renders the preferences as YAML, e.g. for writing a template file.
func (p Preferences) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}
	return buf.Bytes(), nil
}
