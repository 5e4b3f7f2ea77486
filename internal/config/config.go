package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything a bootstrap run needs.
type Config struct {
	// SnapshotURL points to the .tar.lz4 or .tar.gz chain snapshot.
	SnapshotURL string `yaml:"snapshot_url"`
	// BinaryURL points to the tarball containing the node binary.
	BinaryURL string `yaml:"binary_url"`
	// Timeout bounds connection setup and response headers of downloads.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Cosmos describes the node binary and its configuration overrides.
	Cosmos Cosmos `yaml:"cosmos"`
}

// Cosmos describes how to initialize and configure the node.
type Cosmos struct {
	// Bin is the binary path relative to the binary extraction directory.
	Bin string `yaml:"bin"`
	// InitCommand holds the arguments passed to the binary to initialize the node.
	InitCommand string `yaml:"init_command"`
	// StartCommand holds the arguments used to start the node once bootstrapped.
	StartCommand string `yaml:"start_command"`
	// App contains overrides merged into app.toml.
	App map[string]any `yaml:"app,omitempty"`
	// Config contains overrides merged into config.toml.
	Config map[string]any `yaml:"config,omitempty"`
}

const (
	// DefaultConfigFilename is the default path of the configuration file.
	DefaultConfigFilename = "config.yaml"

	// DefaultTimeout is the default connect and response header timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// ErrConfig is wrapped by every error returned while loading or validating a configuration.
	ErrConfig = errors.New("invalid configuration")

	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errFieldRequired is returned when a mandatory field is empty.
	errFieldRequired = errors.New("field is required")
	// errUnsupportedScheme is returned for URLs that are not http or https.
	errUnsupportedScheme = errors.New("only http and https URLs are supported")
	// errBinaryPathNotLocal is returned when cosmos.bin escapes the extraction directory.
	errBinaryPathNotLocal = errors.New("binary path must be relative to the extraction directory")
	// errOverrideWithoutValue is returned for overrides set to null, which TOML cannot represent.
	errOverrideWithoutValue = errors.New("override has no value")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: read settings: %w", ErrConfig, err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal settings: %w", ErrConfig, err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	cfg.Cosmos.App = normalizeMap(cfg.Cosmos.App)
	cfg.Cosmos.Config = normalizeMap(cfg.Cosmos.Config)

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting.
func Validate(settings *Config) error {
	if settings == nil {
		return fmt.Errorf("%w: %w", ErrConfig, errConfigIsNotSet)
	}

	required := []struct {
		name  string
		value string
	}{
		{"snapshot_url", settings.SnapshotURL},
		{"binary_url", settings.BinaryURL},
		{"cosmos.bin", settings.Cosmos.Bin},
		{"cosmos.init_command", settings.Cosmos.InitCommand},
	}

	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%w: %s: %w", ErrConfig, field.name, errFieldRequired)
		}
	}

	if err := validateURL("snapshot_url", settings.SnapshotURL); err != nil {
		return err
	}

	if err := validateURL("binary_url", settings.BinaryURL); err != nil {
		return err
	}

	if !filepath.IsLocal(settings.Cosmos.Bin) {
		return fmt.Errorf("%w: cosmos.bin %q: %w", ErrConfig, settings.Cosmos.Bin, errBinaryPathNotLocal)
	}

	if err := validateOverrides("cosmos.app", settings.Cosmos.App); err != nil {
		return err
	}

	if err := validateOverrides("cosmos.config", settings.Cosmos.Config); err != nil {
		return err
	}

	// Set default timeout if not specified.
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	return nil
}

// Sample returns an example configuration for a Cosmos SDK chain.
func Sample() *Config {
	return &Config{
		SnapshotURL: "https://snapshots.example.com/cosmoshub-4/latest.tar.lz4",
		BinaryURL:   "https://github.com/cosmos/gaia/releases/download/v19.0.0/gaiad-v19.0.0-linux-amd64.tar.gz",
		Timeout:     DefaultTimeout,
		Cosmos: Cosmos{
			Bin:          "gaiad",
			InitCommand:  "init my-node --chain-id cosmoshub-4 --home .",
			StartCommand: "start --home .",
			App: map[string]any{
				"minimum-gas-prices": "0.0025uatom",
				"pruning":            "custom",
				"api": map[string]any{
					"enable": true,
				},
			},
			Config: map[string]any{
				"moniker": "my-node",
				"p2p": map[string]any{
					"seeds": "seed1@seed.example.com:26656",
				},
			},
		},
	}
}

// validateURL ensures raw is an absolute http(s) URL.
func validateURL(field, raw string) error {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid %s: %w", ErrConfig, field, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: %s %q: %w", ErrConfig, field, raw, errUnsupportedScheme)
	}

	return nil
}

// validateOverrides rejects null values anywhere inside an override mapping.
func validateOverrides(prefix string, overrides map[string]any) error {
	for key, value := range overrides {
		if err := validateOverrideValue(prefix+"."+key, value); err != nil {
			return err
		}
	}

	return nil
}

func validateOverrideValue(path string, value any) error {
	switch typed := value.(type) {
	case nil:
		return fmt.Errorf("%w: %s: %w", ErrConfig, path, errOverrideWithoutValue)
	case map[string]any:
		return validateOverrides(path, typed)
	case map[any]any:
		for key, nested := range typed {
			if err := validateOverrideValue(fmt.Sprintf("%s.%v", path, key), nested); err != nil {
				return err
			}
		}
	case []any:
		for i, nested := range typed {
			if err := validateOverrideValue(fmt.Sprintf("%s[%d]", path, i), nested); err != nil {
				return err
			}
		}
	}

	return nil
}

// normalizeMap rewrites nested YAML mappings so every table is a map[string]any.
func normalizeMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = normalizeValue(value)
	}

	return out
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return normalizeMap(typed)
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[fmt.Sprint(key)] = normalizeValue(nested)
		}

		return out
	case []any:
		out := make([]any, len(typed))
		for i, nested := range typed {
			out[i] = normalizeValue(nested)
		}

		return out
	default:
		return value
	}
}
