// Package config loads harvest settings. Values come from, lowest priority
// first: built-in defaults, <name>.json5, <name>.local.json5, then whatever
// the CLI overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"harvest/internal/acquire"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// DefaultFile is read when no --config flag is given.
const DefaultFile = "harvest.json5"

// MaxRetriesLimit bounds max_retries.
const MaxRetriesLimit = 20

// ProxyEnv supplies Proxy when neither file nor flag set it.
const ProxyEnv = "HARVEST_PROXY"

// Config holds every tunable. Durations are seconds.
type Config struct {
	MinDelay    float64 `json:"min_delay"`
	MaxDelay    float64 `json:"max_delay"`
	MaxRetries  int     `json:"max_retries"`
	BaseDelay   float64 `json:"base_delay"`
	Concurrency int     `json:"concurrency"`

	RequestTimeout  float64 `json:"request_timeout"`
	PageLoadTimeout float64 `json:"page_load_timeout"`
	ActionTimeout   float64 `json:"action_timeout"`
	DismissPause    float64 `json:"dismiss_pause"`

	TargetsSource string   `json:"targets_source"`
	MaxTargets    int      `json:"max_targets"`
	PagesPerSite  int      `json:"pages_per_site"`
	Sources       []string `json:"sources"`

	Output string `json:"output"`
	Format string `json:"format"`

	Proxy             string  `json:"proxy"`
	RequestsPerSecond float64 `json:"requests_per_second"`

	// Headless is a pointer so it can be told apart from unset.
	Headless          *bool  `json:"headless"`
	DownloadDir       string `json:"download_dir"`
	ActionXPath       string `json:"action_xpath"`
	VerifySelector    string `json:"verify_selector"`
	InterruptSelector string `json:"interrupt_selector"`

	Ledger string `json:"ledger"`
	// LogFile receives a plain-text copy of every log record when set.
	LogFile string `json:"log_file"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	headless := true
	return Config{
		MinDelay:        0.5,
		MaxDelay:        2,
		MaxRetries:      3,
		BaseDelay:       2,
		Concurrency:     5,
		RequestTimeout:  10,
		PageLoadTimeout: 10,
		ActionTimeout:   10,
		DismissPause:    2,
		MaxTargets:      2350,
		PagesPerSite:    100,
		Sources:         []string{"chartink.bullish", "chartink.bearish"},
		Output:          "extracted_links.xlsx",
		Headless:        &headless,
		ActionXPath:     "/html/body/div[2]/div/div[7]/div/div/div/div[1]/div[2]/a",
		VerifySelector:  "body",
	}
}

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

// ReadConfig decodes name over base, then merges name.local.ext over the
// result. Fields the local file leaves zero keep their value. It returns
// os.ErrNotExist when neither file exists.
func ReadConfig[T any](name string, base T) (T, error) {
	out := base
	allNotFound := true

	dirname := filepath.Dir(name)
	prefixname, ext := splitExt(filepath.Base(name))

	defaultFile, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(defaultFile) > 0 {
		if err := json5.Unmarshal(defaultFile, &out); err != nil {
			return out, fmt.Errorf("parse %s: %w", name, err)
		}
		allNotFound = false
	}

	localFilepath := filepath.Join(dirname, fmt.Sprintf("%s.local.%s", prefixname, ext))
	localFile, err := os.ReadFile(localFilepath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(localFile) > 0 {
		var override T
		if err := json5.Unmarshal(localFile, &override); err != nil {
			return out, fmt.Errorf("parse %s: %w", localFilepath, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localFilepath)
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}
	return out, nil
}

// Load reads path over Defaults. A missing file is an error only when
// required is set.
func Load(path string, required bool) (Config, error) {
	cfg, err := ReadConfig(path, Defaults())
	if errors.Is(err, os.ErrNotExist) && !required {
		err = nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if cfg.Proxy == "" {
		cfg.Proxy = os.Getenv(ProxyEnv)
	}
	return cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c Config) MinDelayDuration() time.Duration        { return seconds(c.MinDelay) }
func (c Config) MaxDelayDuration() time.Duration        { return seconds(c.MaxDelay) }
func (c Config) BaseDelayDuration() time.Duration       { return seconds(c.BaseDelay) }
func (c Config) RequestTimeoutDuration() time.Duration  { return seconds(c.RequestTimeout) }
func (c Config) PageLoadTimeoutDuration() time.Duration { return seconds(c.PageLoadTimeout) }
func (c Config) ActionTimeoutDuration() time.Duration   { return seconds(c.ActionTimeout) }
func (c Config) DismissPauseDuration() time.Duration    { return seconds(c.DismissPause) }

// IsHeadless reports the headless setting, true when unset.
func (c Config) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

// Validate checks settings shared by every command.
func (c Config) Validate() error {
	switch {
	case c.MinDelay < 0:
		return &acquire.ConfigError{Field: "min_delay", Reason: "must not be negative"}
	case c.MinDelay > c.MaxDelay:
		return &acquire.ConfigError{Field: "min_delay", Reason: fmt.Sprintf("%g exceeds max_delay %g", c.MinDelay, c.MaxDelay)}
	case c.MaxRetries < 1:
		return &acquire.ConfigError{Field: "max_retries", Reason: "must be at least 1"}
	case c.MaxRetries > MaxRetriesLimit:
		return &acquire.ConfigError{Field: "max_retries", Reason: fmt.Sprintf("must be at most %d", MaxRetriesLimit)}
	case c.BaseDelay < 0:
		return &acquire.ConfigError{Field: "base_delay", Reason: "must not be negative"}
	case c.Concurrency < 1:
		return &acquire.ConfigError{Field: "concurrency", Reason: "must be at least 1"}
	case c.RequestTimeout <= 0:
		return &acquire.ConfigError{Field: "request_timeout", Reason: "must be positive"}
	case c.PageLoadTimeout <= 0:
		return &acquire.ConfigError{Field: "page_load_timeout", Reason: "must be positive"}
	case c.ActionTimeout <= 0:
		return &acquire.ConfigError{Field: "action_timeout", Reason: "must be positive"}
	case c.DismissPause < 0:
		return &acquire.ConfigError{Field: "dismiss_pause", Reason: "must not be negative"}
	case c.RequestsPerSecond < 0:
		return &acquire.ConfigError{Field: "requests_per_second", Reason: "must not be negative"}
	}
	return nil
}

// ValidateLinks additionally checks what the links command needs.
func (c Config) ValidateLinks() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.PagesPerSite < 1 {
		return &acquire.ConfigError{Field: "pages_per_site", Reason: "must be at least 1"}
	}
	if len(c.Sources) == 0 {
		return &acquire.ConfigError{Field: "sources", Reason: "no sources selected"}
	}
	return nil
}

// ValidateDownload additionally checks what the download command needs.
func (c Config) ValidateDownload() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.TargetsSource) == "" {
		return &acquire.ConfigError{Field: "targets_source", Reason: "required for downloads"}
	}
	if strings.TrimSpace(c.ActionXPath) == "" {
		return &acquire.ConfigError{Field: "action_xpath", Reason: "required for downloads"}
	}
	if c.MaxTargets < 0 {
		return &acquire.ConfigError{Field: "max_targets", Reason: "must not be negative"}
	}
	return nil
}
