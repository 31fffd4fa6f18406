// Package config defines the application configuration: one endpoint
// block per model role plus pipeline tuning. Values load from a YAML
// file, get overlaid with environment variables, and are validated
// before the pipeline starts.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role names the three model endpoints the pipeline talks to.
type Role string

const (
	RoleSTT    Role = "stt"
	RoleLLM    Role = "llm"
	RoleVision Role = "vision"
)

// Endpoint configures one model role. BaseURL is the server root;
// Endpoint, when set, overrides the URL derived from BaseURL.
type Endpoint struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// Transcription tunes the STT stage.
type Transcription struct {
	// MaxNoSpeechProb rejects recordings whose mean no_speech_prob
	// exceeds it.
	MaxNoSpeechProb float64 `yaml:"max_no_speech_prob"`
}

// Analysis tunes the concurrent VLM stage.
type Analysis struct {
	Workers   int `yaml:"workers"`
	StaggerMs int `yaml:"stagger_ms"`
}

// Report tunes report rendering.
type Report struct {
	EmbedVideo bool `yaml:"embed_video"`
}

// Config is the root document.
type Config struct {
	// APIKey is the shared key used by roles that do not set their own.
	APIKey string `yaml:"api_key"`

	STT    Endpoint `yaml:"stt"`
	LLM    Endpoint `yaml:"llm"`
	Vision Endpoint `yaml:"vision"`

	Transcription Transcription `yaml:"transcription"`
	Analysis      Analysis      `yaml:"analysis"`
	Report        Report        `yaml:"report"`

	// KeywordsFile points at a custom keyword patterns YAML.
	KeywordsFile string `yaml:"keywords_file"`
}

// Default returns the built-in configuration. API keys and base URLs
// are intentionally empty; they come from the config file or the
// environment.
func Default() *Config {
	return &Config{
		STT:    Endpoint{Model: "whisper-large-v3"},
		LLM:    Endpoint{Model: "gpt-4.1-mini"},
		Vision: Endpoint{Model: "gpt-4.1"},
		Transcription: Transcription{
			MaxNoSpeechProb: 0.9,
		},
		Analysis: Analysis{
			Workers:   5,
			StaggerMs: 500,
		},
	}
}

// Stagger returns the analysis stagger as a duration.
func (c *Config) Stagger() time.Duration {
	return time.Duration(c.Analysis.StaggerMs) * time.Millisecond
}

// Role returns the endpoint block for the given role, or nil for an
// unknown role.
func (c *Config) Role(role Role) *Endpoint {
	switch role {
	case RoleSTT:
		return &c.STT
	case RoleLLM:
		return &c.LLM
	case RoleVision:
		return &c.Vision
	}
	return nil
}

// Key returns the role's API key, falling back to the shared key.
func (c *Config) Key(role Role) string {
	if ep := c.Role(role); ep != nil && ep.APIKey != "" {
		return ep.APIKey
	}
	return c.APIKey
}

// Validate checks the configuration after Resolve and returns all
// problems joined together.
func (c *Config) Validate() error {
	var errs []error

	for _, role := range []Role{RoleSTT, RoleLLM, RoleVision} {
		ep := c.Role(role)
		if ep.Endpoint == "" {
			errs = append(errs, fmt.Errorf("%s: no endpoint configured (set %s.base_url or %s)", role, role, envName(role, "API_BASE")))
		} else if !strings.HasPrefix(ep.Endpoint, "http://") && !strings.HasPrefix(ep.Endpoint, "https://") {
			errs = append(errs, fmt.Errorf("%s: endpoint %q is not an http(s) URL", role, ep.Endpoint))
		}
		if ep.Model == "" {
			errs = append(errs, fmt.Errorf("%s: model must not be empty", role))
		}
	}

	if c.Transcription.MaxNoSpeechProb <= 0 || c.Transcription.MaxNoSpeechProb > 1 {
		errs = append(errs, fmt.Errorf("transcription.max_no_speech_prob must be in (0, 1], got %v", c.Transcription.MaxNoSpeechProb))
	}
	if c.Analysis.Workers < 1 {
		errs = append(errs, fmt.Errorf("analysis.workers must be >= 1, got %d", c.Analysis.Workers))
	}
	if c.Analysis.StaggerMs < 0 {
		errs = append(errs, fmt.Errorf("analysis.stagger_ms must not be negative, got %d", c.Analysis.StaggerMs))
	}

	return errors.Join(errs...)
}
