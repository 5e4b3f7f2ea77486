package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLoad_Fixture verifies a known-good YAML file decodes into the expected structure.
func TestLoad_Fixture(t *testing.T) {
	t.Parallel()

	got, err := Load(filepath.Join("testdata", "osmosis.yaml"))
	require.NoError(t, err)

	want := &Config{
		SnapshotURL: "https://snapshots.example.com/osmosis-1/osmosis_latest.tar.lz4",
		BinaryURL:   "https://github.com/osmosis-labs/osmosis/releases/download/v25.0.0/osmosisd-25.0.0-linux-amd64.tar.gz",
		Timeout:     45 * time.Second,
		Cosmos: Cosmos{
			Bin:          "bin/osmosisd",
			InitCommand:  `init "my node" --chain-id osmosis-1 --home .`,
			StartCommand: "start --home .",
			App: map[string]any{
				"minimum-gas-prices":  "0.0025uosmo",
				"pruning-keep-recent": 100,
				"api": map[string]any{
					"enable":  true,
					"address": "tcp://0.0.0.0:1317",
				},
			},
			Config: map[string]any{
				"moniker": "my-node",
				"p2p": map[string]any{
					"seeds":                 "abc@seed.example.com:26656",
					"max_num_inbound_peers": 40,
				},
				"statesync": map[string]any{
					"trust_period": "168h0m0s",
				},
			},
		},
	}

	require.Equal(t, want, got)
}

// TestLoad_Errors checks every failure is reported as ErrConfig.
func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing file":  filepath.Join(t.TempDir(), "absent.yaml"),
		"malformed":     filepath.Join("testdata", "malformed.yaml"),
		"missing field": filepath.Join("testdata", "missing_bin.yaml"),
	}

	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load(path)
			require.ErrorIs(t, err, ErrConfig)
			require.Nil(t, cfg)
		})
	}
}

// TestValidate checks required fields and format validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			SnapshotURL: "https://example.com/snap.tar.lz4",
			BinaryURL:   "http://example.com/bin.tar.gz",
			Cosmos: Cosmos{
				Bin:         "gaiad",
				InitCommand: "init node",
			},
		}
	}

	settings := valid()
	require.NoError(t, Validate(settings))
	require.Equal(t, DefaultTimeout, settings.Timeout)

	cases := map[string]func(*Config){
		"no snapshot url":  func(c *Config) { c.SnapshotURL = "" },
		"no binary url":    func(c *Config) { c.BinaryURL = "" },
		"no bin":           func(c *Config) { c.Cosmos.Bin = "" },
		"no init command":  func(c *Config) { c.Cosmos.InitCommand = "" },
		"relative url":     func(c *Config) { c.SnapshotURL = "snap.tar.lz4" },
		"ftp url":          func(c *Config) { c.BinaryURL = "ftp://example.com/bin.tar.gz" },
		"escaping bin":     func(c *Config) { c.Cosmos.Bin = "../gaiad" },
		"absolute bin":     func(c *Config) { c.Cosmos.Bin = "/usr/bin/gaiad" },
		"null app override": func(c *Config) { c.Cosmos.App = map[string]any{"halt-height": nil} },
		"null nested config override": func(c *Config) {
			c.Cosmos.Config = map[string]any{"p2p": map[string]any{"seeds": nil}}
		},
		"null list element": func(c *Config) { c.Cosmos.App = map[string]any{"telemetry.global-labels": []any{nil}} },
		"nil configuration": nil,
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if mutate == nil {
				require.ErrorIs(t, Validate(nil), ErrConfig)
				return
			}

			settings := valid()
			mutate(settings)
			require.ErrorIs(t, Validate(settings), ErrConfig)
		})
	}
}

// TestLoad_NullOverride reports the dotted path of an override left without a value.
func TestLoad_NullOverride(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`snapshot_url: https://example.com/snap.tar.lz4
binary_url: https://example.com/gaiad.tar.gz
cosmos:
  bin: gaiad
  init_command: init node
  app:
    halt-height:
`), 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrConfig)
	require.ErrorIs(t, err, errOverrideWithoutValue)
	require.ErrorContains(t, err, "cosmos.app.halt-height")
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back unchanged.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	settings := Sample()

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestSave_Nil rejects a missing configuration.
func TestSave_Nil(t *testing.T) {
	t.Parallel()

	require.Error(t, Save(filepath.Join(t.TempDir(), "config.yaml"), nil))
}

// TestNormalizeValue converts non-string-keyed mappings into string-keyed tables.
func TestNormalizeValue(t *testing.T) {
	t.Parallel()

	in := map[string]any{
		"grpc": map[any]any{
			"enable": true,
			1:        "one",
		},
		"list": []any{map[any]any{"k": "v"}},
	}

	want := map[string]any{
		"grpc": map[string]any{
			"enable": true,
			"1":      "one",
		},
		"list": []any{map[string]any{"k": "v"}},
	}

	require.Equal(t, want, normalizeMap(in))
	require.Nil(t, normalizeMap(nil))
}
