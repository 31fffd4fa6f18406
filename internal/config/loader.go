package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	appDirName     = "screenscribe"
	configFileName = "config.yaml"

	// EnvPrimaryKey is the shared API key variable.
	EnvPrimaryKey = "LIBRAXIS_API_KEY"
)

// suffixes stripped when normalizing a base URL. Endpoints are then
// derived from the clean root.
var baseSuffixes = []string{
	"/v1/responses",
	"/v1/audio/transcriptions",
	"/v1/chat/completions",
	"/v1",
}

// Load reads and strictly decodes the YAML file at path on top of the
// defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML on top of the defaults. Unknown keys are
// an error, so typos fail loudly instead of being silently ignored.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return cfg, nil // empty file is just the defaults
		}
		return nil, err
	}
	return cfg, nil
}

// Discover returns the path of an existing config file, or "" when
// there is none: an existing ./screenscribe.yaml wins, then the XDG
// config home location. Running with no file at all is supported; the
// environment overlay in [Config.Resolve] carries the whole setup.
func Discover() string {
	if local := "screenscribe.yaml"; fileExists(local) {
		return local
	}
	if path := DefaultPath(); fileExists(path) {
		return path
	}
	return ""
}

// DefaultPath is where config --init and --set-key write when no file
// exists yet. The path may not exist.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appDirName, configFileName)
}

// Resolve overlays environment variables and derives per-role
// endpoints from normalized base URLs. Call it after Load and before
// Validate.
func (c *Config) Resolve() {
	if v := os.Getenv(EnvPrimaryKey); v != "" {
		c.APIKey = v
	}

	for _, role := range []Role{RoleSTT, RoleLLM, RoleVision} {
		ep := c.Role(role)
		if v := os.Getenv(envName(role, "API_KEY")); v != "" {
			ep.APIKey = v
		}
		if v := os.Getenv(envName(role, "API_BASE")); v != "" {
			ep.BaseURL = v
		}
		if v := os.Getenv(envName(role, "ENDPOINT")); v != "" {
			ep.Endpoint = v
		}
		if v := os.Getenv(envName(role, "MODEL")); v != "" {
			ep.Model = v
		}

		ep.BaseURL = NormalizeBase(ep.BaseURL)
		if ep.Endpoint == "" && ep.BaseURL != "" {
			ep.Endpoint = deriveEndpoint(role, ep.BaseURL)
		}
	}
}

// NormalizeBase strips known API suffixes and trailing slashes from a
// base URL so endpoints can be derived from the server root.
func NormalizeBase(base string) string {
	b := strings.TrimRight(strings.TrimSpace(base), "/")
	for _, suffix := range baseSuffixes {
		if strings.HasSuffix(b, suffix) {
			b = strings.TrimSuffix(b, suffix)
			break
		}
	}
	return strings.TrimRight(b, "/")
}

func deriveEndpoint(role Role, base string) string {
	switch role {
	case RoleSTT:
		return base + "/v1/audio/transcriptions"
	default:
		return base + "/v1/responses"
	}
}

// envName builds the per-role override variable name, e.g.
// SCREENSCRIBE_STT_API_KEY or SCREENSCRIBE_VISION_MODEL.
func envName(role Role, field string) string {
	return "SCREENSCRIBE_" + strings.ToUpper(string(role)) + "_" + field
}

// Init writes the default configuration to path, creating parent
// directories. It refuses to overwrite an existing file.
func Init(path string) error {
	if fileExists(path) {
		return fmt.Errorf("config: %q already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
