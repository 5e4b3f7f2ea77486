package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oshokin/cosmos-bootstrap/internal/logger"
	"github.com/oshokin/cosmos-bootstrap/internal/service/node"
)

const (
	// SnapshotsDirName holds downloaded archives and the extracted snapshot.
	SnapshotsDirName = "snapshots"
	// BinExtractDirName holds the extracted binary tarball.
	BinExtractDirName = "bin_extract"
	// DataDirName is the node home directory.
	DataDirName = "data"
	// ConfigDirName is the directory created by the node's init command inside its home.
	ConfigDirName = "config"
	// AppConfigFilename is the application-level node configuration.
	AppConfigFilename = "app.toml"
	// NodeConfigFilename is the networking and consensus node configuration.
	NodeConfigFilename = "config.toml"

	// MarkerFilename marks that a bootstrap run owns the output directory.
	MarkerFilename = ".cosmos-bootstrap.lock"

	// DefaultDirMode is used for every directory created by a run.
	DefaultDirMode os.FileMode = 0o755

	markerFileMode os.FileMode = 0o600
	// markerAttempts bounds stale-marker recovery.
	markerAttempts = 2
)

var (
	// ErrAlreadyRunning is returned when another live run holds the output directory.
	ErrAlreadyRunning = errors.New("another bootstrap run is using the output directory")
	// ErrNoSnapshotDirectory is returned when the extracted snapshot contains no directory.
	ErrNoSnapshotDirectory = errors.New("no extracted snapshot directory found")
	// ErrDestinationExists is returned when relocation would replace a file and overwriting is disabled.
	ErrDestinationExists = errors.New("destination already exists")
)

// AcquireMarker creates the run marker in dir holding the current PID.
// A marker left by a process that is no longer alive is removed and replaced.
func AcquireMarker(ctx context.Context, dir string) (string, error) {
	path := filepath.Join(dir, MarkerFilename)

	for range markerAttempts {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, markerFileMode)
		if err == nil {
			_, err = file.WriteString(strconv.Itoa(os.Getpid()))
			if closeErr := file.Close(); err == nil {
				err = closeErr
			}

			if err != nil {
				_ = os.Remove(path)
				return "", fmt.Errorf("write run marker: %w", err)
			}

			return path, nil
		}

		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create run marker: %w", err)
		}

		if markerOwnerAlive(path) {
			return "", fmt.Errorf("%s: %w", path, ErrAlreadyRunning)
		}

		logger.WarnKV(ctx, "Removing stale run marker", "path", path)

		if err = os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("remove stale run marker: %w", err)
		}
	}

	return "", fmt.Errorf("%s: %w", path, ErrAlreadyRunning)
}

// ReleaseMarker removes the run marker.
func ReleaseMarker(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// markerOwnerAlive reports whether the PID recorded in the marker is running.
// Unreadable markers are treated as owned so that a run never steals a
// directory it cannot prove is abandoned.
func markerOwnerAlive(path string) bool {
	contents, err := os.ReadFile(path)
	if err != nil {
		return !errors.Is(err, fs.ErrNotExist)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return false
	}

	alive, err := node.IsProcessAlive(pid)
	if err != nil {
		return true
	}

	return alive
}

// RelocateSnapshot moves the first directory found in snapshotsDir (in name
// order) into dataDir under the same name. When the target already exists
// the trees are merged; existing files are replaced only when overwrite is set.
func RelocateSnapshot(ctx context.Context, snapshotsDir, dataDir string, overwrite bool) error {
	entries, err := os.ReadDir(snapshotsDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", snapshotsDir, err)
	}

	var source string

	for _, entry := range entries {
		if entry.IsDir() {
			source = filepath.Join(snapshotsDir, entry.Name())
			break
		}
	}

	if source == "" {
		return fmt.Errorf("%s: %w", snapshotsDir, ErrNoSnapshotDirectory)
	}

	target := filepath.Join(dataDir, filepath.Base(source))

	logger.InfoKV(ctx, "Relocating snapshot", "from", source, "to", target)

	if _, err = os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
		if err = os.Rename(source, target); err != nil {
			return fmt.Errorf("move snapshot: %w", err)
		}

		return nil
	}

	logger.InfoKV(ctx, "Target already exists, merging snapshot into it", "target", target, "overwrite", overwrite)

	if err = mergeTree(source, target, overwrite); err != nil {
		return fmt.Errorf("merge snapshot: %w", err)
	}

	return os.RemoveAll(source)
}

// mergeTree moves every entry of source into target, creating directories as needed.
func mergeTree(source, target string, overwrite bool) error {
	return filepath.WalkDir(source, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		relative, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}

		destination := filepath.Join(target, relative)

		if entry.IsDir() {
			return os.MkdirAll(destination, DefaultDirMode)
		}

		if _, err = os.Lstat(destination); err == nil {
			if !overwrite {
				return fmt.Errorf("%s: %w", destination, ErrDestinationExists)
			}

			if err = os.RemoveAll(destination); err != nil {
				return err
			}
		}

		return os.Rename(path, destination)
	})
}
