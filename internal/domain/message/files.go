package message

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"zalo-connector-go/internal/platform/errors"
	"zalo-connector-go/internal/platform/logging"
)

// Stager downloads remote attachments into a temp directory for the duration
// of a send and removes them afterwards.
type Stager struct {
	dir    string
	http   *http.Client
	logger *logging.Logger
}

// NewStager creates a stager rooted at dir. An empty dir falls back to a
// connector-specific folder under the system temp directory.
func NewStager(dir string, logger *logging.Logger) *Stager {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "zalo-connector", "temp_files")
	}
	return &Stager{
		dir:    dir,
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// Save downloads the file at rawURL and returns the local path. The extension
// is taken from the URL path when present.
func (s *Stager) Save(ctx context.Context, rawURL string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrap(errors.KindTransport, "attachment.stage", "create temp dir", err)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(errors.KindTransport, "attachment.stage", "invalid attachment URL", err)
	}
	ext := path.Ext(parsed.Path)
	if ext == "" {
		ext = ".bin"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errors.Wrap(errors.KindTransport, "attachment.stage", "build request", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.KindTransport, "attachment.stage", "download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.New(errors.KindTransport, "attachment.stage",
			fmt.Sprintf("download returned %s", resp.Status))
	}

	target := filepath.Join(s.dir, fmt.Sprintf("temp-%d%s", time.Now().UnixNano(), ext))
	file, err := os.Create(target)
	if err != nil {
		return "", errors.Wrap(errors.KindTransport, "attachment.stage", "create temp file", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		os.Remove(target)
		return "", errors.Wrap(errors.KindTransport, "attachment.stage", "write temp file", err)
	}

	return target, nil
}

// Remove deletes a staged file. Failures are logged only; a leftover temp
// file must never fail a sent message.
func (s *Stager) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.WarnTag("message", "failed to remove staged file %s: %v", path, err)
	}
}
