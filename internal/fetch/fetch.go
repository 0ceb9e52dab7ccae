// Package fetch retrieves remote .torrent files so they can be uploaded to
// the NAS as binary payloads.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	grab "github.com/cavaliergopher/grab/v3"

	"github.com/qstation/qstation/internal/log"
)

var magnetPattern = regexp.MustCompile(`(?i)^magnet:`)

// IsTorrentURL reports whether the URL points at torrent metadata (a magnet
// link or a .torrent file) rather than a plain download.
func IsTorrentURL(raw string) bool {
	return magnetPattern.MatchString(raw) || strings.HasSuffix(strings.ToLower(raw), ".torrent")
}

// IsMagnet reports whether the URL is a magnet link.
func IsMagnet(raw string) bool {
	return magnetPattern.MatchString(raw)
}

// Torrent downloads a .torrent file into memory and returns its contents
// plus a filename derived from the URL.
func Torrent(ctx context.Context, rawURL string) ([]byte, string, error) {
	name := torrentFileName(rawURL)

	tmp, err := os.MkdirTemp("", "qstation-torrent-")
	if err != nil {
		return nil, "", fmt.Errorf("fetch torrent: %w", err)
	}
	defer os.RemoveAll(tmp)

	req, err := grab.NewRequest(tmp, rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("fetch torrent: %w", err)
	}
	req = req.WithContext(ctx)

	client := grab.NewClient()
	client.HTTPClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
		},
	}

	resp := client.Do(req)
	if err := resp.Err(); err != nil {
		return nil, "", fmt.Errorf("fetch torrent: %w", err)
	}

	data, err := os.ReadFile(resp.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("fetch torrent: %w", err)
	}

	log.Debug("fetch").Str("url", rawURL).Int("bytes", len(data)).
		Msg("torrent file fetched")
	return data, name, nil
}

func torrentFileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return "download.torrent"
}
