package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/apex/log"
	"github.com/binary-install/torfetch/pkg/httpclient"
	"github.com/pkg/errors"
)

// maxTextSize bounds FetchText responses; index pages are a few KB
const maxTextSize = 8 << 20

// TransportError reports a failed fetch: a connection problem, a non-2xx
// status or an interrupted body
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status code: %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProgressFunc is a callback for download progress
type ProgressFunc func(downloaded, total int64)

// Fetcher retrieves remote resources over HTTP. Requests are never retried.
type Fetcher struct {
	Client   *http.Client
	Progress ProgressFunc
}

// New creates a Fetcher using client, or a default client when nil
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = httpclient.NewClient("")
	}
	return &Fetcher{Client: client}
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: errors.Wrap(err, "failed to create request")}
	}

	client := f.Client
	if client == nil {
		client = httpclient.NewClient("")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &TransportError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	return resp, nil
}

// FetchText downloads rawURL and returns the body as text
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	log.WithField("url", rawURL).Debug("fetching text")

	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTextSize+1))
	if err != nil {
		return "", &TransportError{URL: rawURL, Err: errors.Wrap(err, "failed to read response")}
	}
	if len(data) > maxTextSize {
		return "", &TransportError{URL: rawURL, Err: fmt.Errorf("response exceeds %d bytes", maxTextSize)}
	}

	return string(data), nil
}

// FetchToFile streams rawURL into destPath. The body is written to a
// temporary file next to destPath and renamed into place once complete.
func (f *Fetcher) FetchToFile(ctx context.Context, rawURL, destPath string) error {
	log.WithFields(log.Fields{"url": rawURL, "dest": destPath}).Debug("downloading")

	// Create destination directory if needed
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create destination directory")
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)
	defer tmpFile.Close()

	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if f.Progress != nil {
		reader = &progressReader{Reader: resp.Body, Total: resp.ContentLength, Progress: f.Progress}
	}

	if _, err := io.Copy(tmpFile, reader); err != nil {
		return &TransportError{URL: rawURL, Err: errors.Wrap(err, "failed to write body")}
	}

	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary file")
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return errors.Wrap(err, "failed to move downloaded file")
	}

	return nil
}

// FetchToDir downloads rawURL into dir, naming the file after the last URL
// path segment, and returns the file path
func (f *Fetcher) FetchToDir(ctx context.Context, rawURL, dir string) (string, error) {
	filename, err := Basename(rawURL)
	if err != nil {
		return "", err
	}
	destPath := filepath.Join(dir, filename)
	if err := f.FetchToFile(ctx, rawURL, destPath); err != nil {
		return "", err
	}
	return destPath, nil
}

// Basename returns the last path segment of rawURL
func Basename(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URL %q", rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("URL %q has no file name", rawURL)
	}
	return name, nil
}

// progressReader wraps an io.Reader to report progress
type progressReader struct {
	Reader   io.Reader
	Total    int64
	Current  int64
	Progress ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.Current += int64(n)
		pr.Progress(pr.Current, pr.Total)
	}
	return n, err
}
