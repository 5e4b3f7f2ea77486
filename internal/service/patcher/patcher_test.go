package patcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// copyFixture copies a testdata file into a fresh temporary directory.
func copyFixture(t *testing.T, name string) string {
	t.Helper()

	contents, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, contents, 0o640))

	return path
}

// writeDocument writes raw TOML into a temporary file.
func writeDocument(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

// TestApplyOverrides_PreservesSiblings replaces only the overridden key of a nested table.
func TestApplyOverrides_PreservesSiblings(t *testing.T) {
	t.Parallel()

	path := writeDocument(t, "[a]\nb = 0\nc = 2\n")

	require.NoError(t, ApplyOverrides(context.Background(), path, map[string]any{
		"a": map[string]any{"b": 1},
	}))

	got, err := Load(path)
	require.NoError(t, err)

	want := Document{"a": map[string]any{"b": int64(1), "c": int64(2)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected document (-want +got):\n%s", diff)
	}
}

// TestApplyOverrides_Idempotent applying the same overrides twice equals applying once.
func TestApplyOverrides_Idempotent(t *testing.T) {
	t.Parallel()

	overrides := map[string]any{
		"minimum-gas-prices": "0.0025uatom",
		"pruning":            "custom",
		"api": map[string]any{
			"enable":  true,
			"address": "tcp://0.0.0.0:1317",
		},
		"state-sync.snapshot-interval": 1000,
	}

	path := copyFixture(t, "app.toml")

	require.NoError(t, ApplyOverrides(context.Background(), path, overrides))

	once, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, ApplyOverrides(context.Background(), path, overrides))

	twice, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(once), string(twice))
}

// TestApplyOverrides_Fixture merges nested and dotted overrides into a generated config.toml.
func TestApplyOverrides_Fixture(t *testing.T) {
	t.Parallel()

	path := copyFixture(t, "config.toml")

	require.NoError(t, ApplyOverrides(context.Background(), path, map[string]any{
		"moniker": "my-node",
		"p2p": map[string]any{
			"seeds":                 "abc@seed.example.com:26656",
			"max_num_inbound_peers": 80,
		},
		"statesync.enable":      true,
		"statesync.rpc_servers": "https://rpc-1.example.com:443,https://rpc-2.example.com:443",
		"instrumentation": map[string]any{
			"prometheus": true,
		},
	}))

	got, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "my-node", got["moniker"])
	require.Equal(t, "goleveldb", got["db_backend"])

	p2p := got["p2p"].(map[string]any)
	require.Equal(t, "abc@seed.example.com:26656", p2p["seeds"])
	require.Equal(t, int64(80), p2p["max_num_inbound_peers"])
	require.Equal(t, "tcp://0.0.0.0:26656", p2p["laddr"])

	statesync := got["statesync"].(map[string]any)
	require.Equal(t, true, statesync["enable"])
	require.Equal(t, "168h0m0s", statesync["trust_period"])

	require.Equal(t, map[string]any{"prometheus": true}, got["instrumentation"])
	require.Equal(t, map[string]any{"timeout_commit": "5s"}, got["consensus"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

// TestApplyOverrides_Errors covers missing and malformed documents.
func TestApplyOverrides_Errors(t *testing.T) {
	t.Parallel()

	overrides := map[string]any{"moniker": "node"}

	err := ApplyOverrides(context.Background(), filepath.Join(t.TempDir(), "config.toml"), overrides)
	require.ErrorIs(t, err, ErrMissing)

	path := writeDocument(t, "[p2p\nseeds = \n")
	err = ApplyOverrides(context.Background(), path, overrides)
	require.ErrorIs(t, err, ErrMalformed)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "[p2p\nseeds = \n", string(contents))
}

// TestApplyOverrides_Empty leaves documents untouched, even missing ones.
func TestApplyOverrides_Empty(t *testing.T) {
	t.Parallel()

	require.NoError(t, ApplyOverrides(context.Background(), filepath.Join(t.TempDir(), "absent.toml"), nil))

	path := copyFixture(t, "app.toml")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, ApplyOverrides(context.Background(), path, map[string]any{}))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestMerge_ReplacesTypes checks scalars replace tables and tables replace scalars.
func TestMerge_ReplacesTypes(t *testing.T) {
	t.Parallel()

	doc := Document{
		"api":   map[string]any{"enable": false},
		"grpc":  "disabled",
		"other": int64(7),
	}

	overrides := map[string]any{
		"api":  "off",
		"grpc": map[string]any{"enable": true},
	}

	require.NoError(t, doc.Merge(overrides))

	want := Document{
		"api":   "off",
		"grpc":  map[string]any{"enable": true},
		"other": int64(7),
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Fatalf("unexpected document (-want +got):\n%s", diff)
	}

	// The merged table is a copy, not the caller's mapping.
	doc["grpc"].(map[string]any)["enable"] = false
	require.Equal(t, true, overrides["grpc"].(map[string]any)["enable"])
}

// TestExpandDottedKeys nests dotted keys and combines them with explicit tables.
func TestExpandDottedKeys(t *testing.T) {
	t.Parallel()

	got, err := ExpandDottedKeys(map[string]any{
		"p2p.seeds":      "a@b:26656",
		"p2p":            map[string]any{"pex": false},
		"api.cors.allow": true,
		"moniker":        "node",
	})
	require.NoError(t, err)

	want := map[string]any{
		"p2p": map[string]any{
			"seeds": "a@b:26656",
			"pex":   false,
		},
		"api": map[string]any{
			"cors": map[string]any{"allow": true},
		},
		"moniker": "node",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected expansion (-want +got):\n%s", diff)
	}
}

// TestExpandDottedKeys_Conflicts rejects overrides that would drop a configured value.
func TestExpandDottedKeys_Conflicts(t *testing.T) {
	t.Parallel()

	cases := map[string]map[string]any{
		"value then table": {
			"p2p":       "x",
			"p2p.seeds": "a@b:26656",
		},
		"table then value": {
			"api":             map[string]any{"enable": true},
			"api.enable.test": 1,
			"api.enable.more": 2,
		},
		"value and nested table": {
			"statesync.enable": true,
			"statesync":        map[string]any{"enable": map[string]any{"x": 1}},
		},
		"set twice": {
			"p2p.pex": true,
			"p2p":     map[string]any{"pex": false},
		},
		"null value": {
			"halt-height": nil,
		},
		"nested null value": {
			"api": map[string]any{"address": nil},
		},
	}

	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := ExpandDottedKeys(overrides)
			require.ErrorIs(t, err, ErrInvalidOverride)

			doc := Document{"p2p": map[string]any{"pex": true}}
			require.ErrorIs(t, doc.Merge(overrides), ErrInvalidOverride)
			require.Equal(t, Document{"p2p": map[string]any{"pex": true}}, doc)
		})
	}
}

// TestApplyOverrides_NullValueKeepsDocument refuses a null override instead of deleting the key.
func TestApplyOverrides_NullValueKeepsDocument(t *testing.T) {
	t.Parallel()

	path := writeDocument(t, "pruning = \"default\"\nhalt-height = 5\n")

	err := ApplyOverrides(context.Background(), path, map[string]any{"halt-height": nil})
	require.ErrorIs(t, err, ErrInvalidOverride)
	require.ErrorContains(t, err, "halt-height")

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "pruning = \"default\"\nhalt-height = 5\n", string(contents))
}
