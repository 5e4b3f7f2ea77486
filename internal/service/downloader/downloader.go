package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/oshokin/cosmos-bootstrap/internal/logger"
	"github.com/oshokin/cosmos-bootstrap/internal/version"
)

const (
	// ChunkSize is the size of the buffer used to stream response bodies to disk.
	ChunkSize = 32 * 1024

	// DefaultProgressInterval is the minimum delay between two progress reports.
	DefaultProgressInterval = 2 * time.Second

	// DefaultFileMode is the permission of downloaded files.
	DefaultFileMode os.FileMode = 0o644

	bytesInMegabyte = 1 << 20
)

var (
	// ErrHTTP is returned when the request fails or the server answers with a non-success status.
	ErrHTTP = errors.New("http download failed")
	// ErrIO is returned when the destination file cannot be created or written.
	ErrIO = errors.New("write download")
	// ErrDestinationExists is returned when the destination exists and overwriting is disabled.
	ErrDestinationExists = errors.New("destination already exists")

	errNoFileName = errors.New("unable to determine file name from URL")
)

// Downloader streams HTTP resources to files.
type Downloader struct {
	// client performs the GET requests.
	client *http.Client
	// overwrite allows replacing an existing destination file.
	overwrite bool
	// progressInterval throttles progress reports.
	progressInterval time.Duration
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		if client != nil {
			d.client = client
		}
	}
}

// WithOverwrite sets the destination-exists policy.
func WithOverwrite(overwrite bool) Option {
	return func(d *Downloader) {
		d.overwrite = overwrite
	}
}

// WithProgressInterval sets the minimum delay between progress reports.
func WithProgressInterval(interval time.Duration) Option {
	return func(d *Downloader) {
		if interval > 0 {
			d.progressInterval = interval
		}
	}
}

// New creates a Downloader. Without options it uses a client built by NewHTTPClient
// with no timeouts, refuses to overwrite files and reports progress every two seconds.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		client:           NewHTTPClient(0),
		progressInterval: DefaultProgressInterval,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// NewHTTPClient returns a client whose timeout applies to connection setup and
// response headers only. Bodies of multi-gigabyte snapshots are never cut off.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if timeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = timeout
		transport.ResponseHeaderTimeout = timeout
	}

	return &http.Client{Transport: transport}
}

// FileNameFromURL returns the last path segment of rawURL, ignoring query and fragment.
func FileNameFromURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}

	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%q: %w", rawURL, errNoFileName)
	}

	return name, nil
}

// Download fetches rawURL and streams the body into destination.
// The destination file is created only after the server answered with a
// success status, so an HTTP failure leaves nothing on disk. A failure while
// streaming leaves the partial file in place.
func (d *Downloader) Download(ctx context.Context, rawURL, destination string) error {
	destination = filepath.Clean(destination)

	if !d.overwrite {
		if _, err := os.Stat(destination); err == nil {
			return fmt.Errorf("%s: %w", destination, ErrDestinationExists)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrHTTP, err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHTTP, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s: %s", ErrHTTP, rawURL, response.Status)
	}

	logger.InfoKV(ctx, "Download started",
		"url", rawURL,
		"destination", destination,
		"content_length", response.ContentLength)

	file, err := d.openDestination(destination)
	if err != nil {
		return err
	}

	written, err := d.stream(ctx, response.Body, file, response.ContentLength)
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("%w: close %s: %w", ErrIO, destination, closeErr)
	}

	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Download completed",
		"destination", destination,
		"size_mb", megabytes(written))

	return nil
}

// openDestination creates the destination file according to the overwrite policy.
func (d *Downloader) openDestination(destination string) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if d.overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	file, err := os.OpenFile(destination, flags, DefaultFileMode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%s: %w", destination, ErrDestinationExists)
		}

		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, destination, err)
	}

	return file, nil
}

// stream copies body into file chunk by chunk and reports progress at a bounded rate.
func (d *Downloader) stream(ctx context.Context, body io.Reader, file io.Writer, total int64) (int64, error) {
	var (
		buffer   = make([]byte, ChunkSize)
		written  int64
		reporter = &rate.Sometimes{Interval: d.progressInterval}
	)

	for {
		n, readErr := body.Read(buffer)
		if n > 0 {
			if _, err := file.Write(buffer[:n]); err != nil {
				return written, fmt.Errorf("%w: %w", ErrIO, err)
			}

			written += int64(n)

			reporter.Do(func() {
				reportProgress(ctx, written, total)
			})
		}

		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return written, fmt.Errorf("%w: read body: %w", ErrHTTP, readErr)
		}
	}

	if total > 0 && written != total {
		return written, fmt.Errorf("%w: received %d of %d bytes", ErrHTTP, written, total)
	}

	return written, nil
}

// reportProgress logs the cumulative size and, when known, the completion percentage.
func reportProgress(ctx context.Context, written, total int64) {
	if total <= 0 {
		logger.InfoKV(ctx, "Download progress", "downloaded_mb", megabytes(written))
		return
	}

	percent := float64(written) * 100 / float64(total)

	logger.InfoKV(ctx, "Download progress",
		"downloaded_mb", megabytes(written),
		"total_mb", megabytes(total),
		"percent", fmt.Sprintf("%.1f", percent))
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.2f", float64(n)/bytesInMegabyte)
}
