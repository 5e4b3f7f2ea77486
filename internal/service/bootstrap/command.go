package bootstrap

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/oshokin/cosmos-bootstrap/internal/config"
	"github.com/oshokin/cosmos-bootstrap/internal/domain/stage"
	"github.com/oshokin/cosmos-bootstrap/internal/logger"
	"github.com/oshokin/cosmos-bootstrap/internal/service/downloader"
	"github.com/oshokin/cosmos-bootstrap/internal/service/extractor"
	"github.com/oshokin/cosmos-bootstrap/internal/service/node"
	"github.com/oshokin/cosmos-bootstrap/internal/service/patcher"
)

// Options are inputs accepted by the bootstrap entry point.
type Options struct {
	// ConfigPath is the path to the YAML configuration.
	ConfigPath string
	// OutputDir is the directory receiving snapshots/, bin_extract/ and data/.
	OutputDir string
	// Overwrite lets downloads, extraction and relocation replace existing files.
	Overwrite bool
}

// Layout holds the directories produced under the output directory.
type Layout struct {
	// Root is the output directory itself.
	Root string
	// Snapshots receives downloaded archives and the extracted snapshot.
	Snapshots string
	// BinExtract receives the extracted binary tarball.
	BinExtract string
	// Data is the node home passed to the init command.
	Data string
}

// NewLayout returns the directory layout rooted at outputDir.
func NewLayout(outputDir string) Layout {
	root := filepath.Clean(outputDir)

	return Layout{
		Root:       root,
		Snapshots:  filepath.Join(root, SnapshotsDirName),
		BinExtract: filepath.Join(root, BinExtractDirName),
		Data:       filepath.Join(root, DataDirName),
	}
}

// AppConfigPath returns the path of the node's app.toml.
func (l Layout) AppConfigPath() string {
	return filepath.Join(l.Data, ConfigDirName, AppConfigFilename)
}

// NodeConfigPath returns the path of the node's config.toml.
func (l Layout) NodeConfigPath() string {
	return filepath.Join(l.Data, ConfigDirName, NodeConfigFilename)
}

// runner holds the state of a single bootstrap execution.
// It is intentionally unexported: call Run(ctx, Options) from callers.
type runner struct {
	cfg        *config.Config         // Configuration loaded from YAML.
	layout     Layout                 // Directories of this run.
	overwrite  bool                   // Destination-exists policy.
	downloader *downloader.Downloader // Streams archives to disk.
	extractor  *extractor.Extractor   // Unpacks archives.
	node       *node.Bootstrapper     // Runs the node binary.
	marker     string                 // Path of the run marker, empty until acquired.
}

// Run executes the whole bootstrap pipeline. Any stage failure aborts the run
// and is returned as a *stage.Error.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "cosmos-bootstrap")
	ctx = logger.WithKV(ctx, "run_id", ulid.MustNew(ulid.Now(), rand.Reader).String())

	r, err := newRunner(ctx, opts)
	if err != nil {
		return stage.Wrap(stage.Prepare, err)
	}

	defer r.cleanup(ctx)

	if err = r.Run(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Setup complete, the node can now be started")

	return nil
}

// newRunner acquires the run marker, loads the configuration and wires the stages.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	if opts == nil {
		opts = new(Options)
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "."
	}

	r := &runner{
		layout:    NewLayout(outputDir),
		overwrite: opts.Overwrite,
	}

	if err := os.MkdirAll(r.layout.Root, DefaultDirMode); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	marker, err := AcquireMarker(ctx, r.layout.Root)
	if err != nil {
		return nil, err
	}

	r.marker = marker

	logger.InfoKV(ctx, "Loading configuration", "path", opts.ConfigPath)

	r.cfg, err = config.Load(opts.ConfigPath)
	if err != nil {
		r.cleanup(ctx)
		return nil, err
	}

	r.downloader = downloader.New(
		downloader.WithHTTPClient(downloader.NewHTTPClient(r.cfg.Timeout)),
		downloader.WithOverwrite(r.overwrite),
	)
	r.extractor = extractor.New(extractor.WithOverwrite(r.overwrite))
	r.node = node.New()

	return r, nil
}

// Run sequences the stages:
// 1) Create the directory layout.
// 2) Download the snapshot and the binary tarball.
// 3) Extract the binary, then the snapshot, and move the snapshot into data/.
// 4) Initialize the node.
// 5) Patch app.toml and config.toml.
func (r *runner) Run(ctx context.Context) error {
	if err := r.prepareLayout(); err != nil {
		return stage.Wrap(stage.Prepare, err)
	}

	snapshotArchive, err := r.download(ctx, stage.DownloadSnapshot, r.cfg.SnapshotURL)
	if err != nil {
		return err
	}

	binaryArchive, err := r.download(ctx, stage.DownloadBinary, r.cfg.BinaryURL)
	if err != nil {
		return err
	}

	if err = r.extract(ctx, stage.ExtractBinary, binaryArchive, r.layout.BinExtract); err != nil {
		return err
	}

	if err = r.extract(ctx, stage.ExtractSnapshot, snapshotArchive, r.layout.Snapshots); err != nil {
		return err
	}

	logger.Info(ctx, "Moving snapshot into the data directory")

	if err = RelocateSnapshot(ctx, r.layout.Snapshots, r.layout.Data, r.overwrite); err != nil {
		return stage.Wrap(stage.RelocateSnapshot, err)
	}

	if err = r.initializeNode(ctx); err != nil {
		return stage.Wrap(stage.InitializeNode, err)
	}

	logger.Info(ctx, "Applying app.toml overrides")

	if err = patcher.ApplyOverrides(ctx, r.layout.AppConfigPath(), r.cfg.Cosmos.App); err != nil {
		return stage.Wrap(stage.PatchAppConfig, err)
	}

	logger.Info(ctx, "Applying config.toml overrides")

	if err = patcher.ApplyOverrides(ctx, r.layout.NodeConfigPath(), r.cfg.Cosmos.Config); err != nil {
		return stage.Wrap(stage.PatchNodeConfig, err)
	}

	r.logStartHint(ctx)

	return nil
}

// prepareLayout creates the output subdirectories.
func (r *runner) prepareLayout() error {
	for _, dir := range []string{r.layout.Snapshots, r.layout.BinExtract, r.layout.Data} {
		if err := os.MkdirAll(dir, DefaultDirMode); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return nil
}

// download fetches rawURL into the snapshots directory and returns the local path.
func (r *runner) download(ctx context.Context, s stage.Stage, rawURL string) (string, error) {
	logger.InfoKV(ctx, "Downloading", "stage", s, "url", rawURL)

	name, err := downloader.FileNameFromURL(rawURL)
	if err != nil {
		return "", stage.Wrap(s, err)
	}

	destination := filepath.Join(r.layout.Snapshots, name)

	if err = r.downloader.Download(ctx, rawURL, destination); err != nil {
		return "", stage.Wrap(s, err)
	}

	return destination, nil
}

// extract unpacks archive into destination.
func (r *runner) extract(ctx context.Context, s stage.Stage, archive, destination string) error {
	logger.InfoKV(ctx, "Extracting", "stage", s, "archive", filepath.Base(archive))

	return stage.Wrap(s, r.extractor.Extract(ctx, archive, destination))
}

// initializeNode runs the configured init command with data/ as working directory.
func (r *runner) initializeNode(ctx context.Context) error {
	binary := filepath.Join(r.layout.BinExtract, r.cfg.Cosmos.Bin)

	pids, err := node.RunningProcesses(binary)
	if err != nil {
		logger.WarnKV(ctx, "Unable to inspect running processes", "error", err)
	} else if len(pids) > 0 {
		logger.WarnKV(ctx, "A node process with the same name is already running", "binary", filepath.Base(binary), "pids", pids)
	}

	logger.InfoKV(ctx, "Initializing node", "command", r.cfg.Cosmos.InitCommand)

	return r.node.Initialize(ctx, binary, r.cfg.Cosmos.InitCommand, r.layout.Data)
}

// logStartHint tells the operator how to start the node.
func (r *runner) logStartHint(ctx context.Context) {
	if strings.TrimSpace(r.cfg.Cosmos.StartCommand) == "" {
		return
	}

	binary := filepath.Join(r.layout.BinExtract, r.cfg.Cosmos.Bin)

	logger.InfoKV(ctx, "Start the node with",
		"command", binary+" "+r.cfg.Cosmos.StartCommand,
		"dir", r.layout.Data)
}

// cleanup releases the run marker.
func (r *runner) cleanup(ctx context.Context) {
	if r.marker == "" {
		return
	}

	if err := ReleaseMarker(r.marker); err != nil {
		logger.WarnKV(ctx, "Unable to remove run marker", "path", r.marker, "error", err)
	}

	r.marker = ""
}
