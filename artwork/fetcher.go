// Package artwork downloads album cover images for decoded tracks.
package artwork

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	crackncm "github.com/Carryma11/crack-ncm"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Fetcher downloads cover images with exponential backoff on transient
// failures. The http client is provided by the caller so timeouts and
// transport settings stay in one place.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries uint64
}

func NewFetcher(client *http.Client, maxRetries uint64) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, userAgent: crackncm.UserAgent(), maxRetries: maxRetries}
}

// Fetch downloads url into a temporary file and returns its path along
// with the mime type the server declared. The caller owns the returned
// file and is expected to remove it.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	tmp, err := os.CreateTemp("", "crackncm-cover-*")
	if err != nil {
		return "", "", fmt.Errorf("failed creating cover file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	var mimeType string
	err = backoff.Retry(func() error {
		m, err := f.download(ctx, url, tmpPath)
		if err != nil {
			log.WithError(err).Debugf("retrying album art download from %s", url)
			return err
		}
		mimeType = m
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.maxRetries), ctx))
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", "", fmt.Errorf("failed downloading album art: %w", err)
	}

	return tmpPath, mimeType, nil
}

func (f *Fetcher) download(ctx context.Context, url, destPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("invalid album art url: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed requesting album art: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", backoff.Permanent(fmt.Errorf("album art rejected: %s", resp.Status))
	} else if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("invalid album art response status: %s", resp.Status)
	}

	// write through a sibling path so a failed attempt never leaves a
	// half-written image behind
	partPath := destPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed creating cover file: %w", err))
	}

	if _, err = io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(partPath)
		return "", fmt.Errorf("failed reading album art: %w", err)
	}
	if err = out.Close(); err != nil {
		_ = os.Remove(partPath)
		return "", fmt.Errorf("failed writing cover file: %w", err)
	}
	if err = os.Rename(partPath, destPath); err != nil {
		_ = os.Remove(partPath)
		return "", backoff.Permanent(fmt.Errorf("failed publishing cover file: %w", err))
	}

	return parseMimeType(resp.Header.Get("Content-Type")), nil
}

func parseMimeType(contentType string) string {
	mimeType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}
