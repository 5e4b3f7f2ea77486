package patcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/oshokin/cosmos-bootstrap/internal/logger"
)

var (
	// ErrMissing is returned when the document to patch does not exist.
	ErrMissing = errors.New("config document not found")
	// ErrMalformed is returned when the document is not valid TOML.
	ErrMalformed = errors.New("malformed config document")
	// ErrIO is returned when the document cannot be read or written.
	ErrIO = errors.New("patch config document")
	// ErrInvalidOverride is returned for overrides that cannot be written as TOML
	// or that address the same key both as a value and as a table.
	ErrInvalidOverride = errors.New("invalid override")
)

// Document is a TOML file decoded into nested tables.
type Document map[string]any

// Load reads and decodes the TOML document at path.
func Load(path string) (Document, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrMissing)
		}

		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}

	doc := make(Document)
	if _, err = toml.Decode(string(contents), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, path, err)
	}

	return doc, nil
}

// Encode serializes the document as TOML.
func (d Document) Encode() ([]byte, error) {
	var buffer bytes.Buffer

	encoder := toml.NewEncoder(&buffer)
	encoder.Indent = ""

	if err := encoder.Encode(map[string]any(d)); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

// Merge applies overrides onto the document. Where both sides hold a table
// the tables are merged recursively; otherwise the override value replaces
// the existing one. Keys absent from overrides are never removed.
// Nothing is changed when the overrides are invalid.
func (d Document) Merge(overrides map[string]any) error {
	expanded, err := ExpandDottedKeys(overrides)
	if err != nil {
		return err
	}

	mergeTables(d, expanded)

	return nil
}

// ExpandDottedKeys turns keys like "p2p.seeds" into nested tables so they
// address the same setting as {p2p: {seeds: ...}}. Null values and keys given
// both as a value and as a table are rejected with ErrInvalidOverride.
func ExpandDottedKeys(overrides map[string]any) (map[string]any, error) {
	return expandDottedKeys(overrides, "")
}

func expandDottedKeys(overrides map[string]any, prefix string) (map[string]any, error) {
	expanded := make(map[string]any, len(overrides))

	// Sorted order keeps the result stable when a dotted and a nested key overlap.
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		path := joinKey(prefix, key)

		value := overrides[key]
		if value == nil {
			return nil, fmt.Errorf("%w: %s has no value", ErrInvalidOverride, path)
		}

		if nested, ok := value.(map[string]any); ok {
			var err error

			value, err = expandDottedKeys(nested, path)
			if err != nil {
				return nil, err
			}
		}

		parts := strings.Split(key, ".")
		table := expanded

		for i, part := range parts[:len(parts)-1] {
			existing, found := table[part]
			if !found {
				child := make(map[string]any)
				table[part] = child
				table = child

				continue
			}

			child, ok := existing.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s is set both as a value and as a table",
					ErrInvalidOverride, joinKey(prefix, strings.Join(parts[:i+1], ".")))
			}

			table = child
		}

		leaf := parts[len(parts)-1]

		existing, found := table[leaf]
		if !found {
			table[leaf] = value
			continue
		}

		existingTable, existingIsTable := existing.(map[string]any)
		incomingTable, incomingIsTable := value.(map[string]any)

		switch {
		case existingIsTable && incomingIsTable:
			mergeTables(existingTable, incomingTable)
		case existingIsTable || incomingIsTable:
			return nil, fmt.Errorf("%w: %s is set both as a value and as a table", ErrInvalidOverride, path)
		default:
			return nil, fmt.Errorf("%w: %s is set more than once", ErrInvalidOverride, path)
		}
	}

	return expanded, nil
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}

	return prefix + "." + key
}

func mergeTables(target, overrides map[string]any) {
	for key, value := range overrides {
		incoming, incomingIsTable := value.(map[string]any)
		existing, existingIsTable := target[key].(map[string]any)

		if incomingIsTable && existingIsTable {
			mergeTables(existing, incoming)
			continue
		}

		if incomingIsTable {
			// Copy so later merges never alias the caller's mapping.
			copied := make(map[string]any, len(incoming))
			mergeTables(copied, incoming)
			target[key] = copied

			continue
		}

		target[key] = value
	}
}

// ApplyOverrides loads the TOML document at path, merges overrides into it and
// writes it back in place, keeping the file permissions. An empty override
// mapping leaves the file untouched.
func ApplyOverrides(ctx context.Context, path string, overrides map[string]any) error {
	if len(overrides) == 0 {
		logger.InfoKV(ctx, "No overrides configured, skipping", "path", path)
		return nil
	}

	expanded, err := ExpandDottedKeys(overrides)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrMissing)
		}

		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	doc, err := Load(path)
	if err != nil {
		return err
	}

	mergeTables(doc, expanded)

	contents, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrIO, path, err)
	}

	if err = os.WriteFile(path, contents, info.Mode().Perm()); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}

	logger.InfoKV(ctx, "Config document updated", "path", path, "keys", len(overrides))

	return nil
}
