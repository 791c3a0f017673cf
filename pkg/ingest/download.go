package ingest

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

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Downloader fetches dump files into a local directory
type Downloader struct {
	client *http.Client
	log    zerolog.Logger
}

func NewDownloader(log zerolog.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{Transport: &http.Transport{Proxy: http.ProxyFromEnvironment}},
		log:    log,
	}
}

// Download saves rawURL under destDir, named after the URL's last path
// element, and returns the local path. An existing file is reused as is.
func (d *Downloader) Download(ctx context.Context, rawURL, destDir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid dump url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("dump url %q has no file name", rawURL)
	}
	dest := filepath.Join(destDir, name)

	if info, err := os.Stat(dest); err == nil {
		d.log.Info().Str("path", dest).Str("size", humanize.Bytes(uint64(info.Size()))).Msg("Dump already downloaded")
		return dest, nil
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create dump directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download dump: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download dump: HTTP %d", resp.StatusCode)
	}

	var total string
	if resp.ContentLength > 0 {
		total = humanize.Bytes(uint64(resp.ContentLength))
	}
	d.log.Info().Str("url", rawURL).Str("path", dest).Str("size", total).Msg("Downloading dump")

	tmp, err := os.CreateTemp(destDir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	start := time.Now()
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write dump: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to move dump into place: %w", err)
	}

	d.log.Info().
		Str("path", dest).
		Str("size", humanize.Bytes(uint64(n))).
		Str("elapsed", time.Since(start).Round(time.Second).String()).
		Msg("Dump downloaded")
	return dest, nil
}
