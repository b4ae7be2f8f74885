package debrid

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/zeebo/bencode"
)

var infoHashRE = regexp.MustCompile(`^[a-f0-9]{40}$`)

// DefaultTrackers are appended to built magnets so services that don't
// have the torrent cached can still find peers.
var DefaultTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.tracker.cl:1337/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://exodus.desync.com:6969/announce",
}

// ValidInfoHash reports whether s is a normalized v1 info hash
// (40 lowercase hex characters).
func ValidInfoHash(s string) bool {
	return infoHashRE.MatchString(s)
}

// NormalizeInfoHash lowercases a hash and reports whether the result is
// a valid info hash.
func NormalizeInfoHash(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return s, ValidInfoHash(s)
}

// BuildMagnet creates a magnet URI for an info hash. name and trackers
// are optional; DefaultTrackers are always included.
func BuildMagnet(infoHash, name string, trackers []string) string {
	var sb strings.Builder
	sb.WriteString("magnet:?xt=urn:btih:")
	sb.WriteString(infoHash)
	if name != "" {
		sb.WriteString("&dn=")
		sb.WriteString(url.QueryEscape(name))
	}
	for _, tr := range append(trackers, DefaultTrackers...) {
		sb.WriteString("&tr=")
		sb.WriteString(url.QueryEscape(tr))
	}
	return sb.String()
}

// InfoHashFromMagnet extracts the info hash from a magnet URI.
func InfoHashFromMagnet(magnet string) (string, error) {
	u, err := url.Parse(magnet)
	if err != nil {
		return "", fmt.Errorf("Couldn't parse magnet URL: %v", err)
	}
	if u.Scheme != "magnet" {
		return "", fmt.Errorf("Not a magnet URL: %v", magnet)
	}
	for _, xt := range u.Query()["xt"] {
		if strings.HasPrefix(xt, "urn:btih:") {
			hash, ok := NormalizeInfoHash(strings.TrimPrefix(xt, "urn:btih:"))
			if !ok {
				return "", fmt.Errorf("Invalid info hash in magnet URL: %v", xt)
			}
			return hash, nil
		}
	}
	return "", fmt.Errorf("Couldn't find info hash in magnet URL")
}

// maxTorrentFileSize caps .torrent downloads. Metainfo files are tiny;
// anything larger is not one.
const maxTorrentFileSize = 10 << 20

// FetchTorrent downloads the contents of a .torrent file.
func FetchTorrent(ctx context.Context, httpClient *http.Client, torrentURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, torrentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create torrent file request: %v", err)
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Couldn't fetch torrent file: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, NewHTTPError(res.StatusCode, res.Status, "")
	}
	torrentBytes, err := ioutil.ReadAll(io.LimitReader(res.Body, maxTorrentFileSize))
	if err != nil {
		return nil, fmt.Errorf("Couldn't read torrent file: %v", err)
	}
	return torrentBytes, nil
}

// InfoHashFromTorrent computes the info hash of .torrent file contents
// by hashing the bencoded info dictionary.
func InfoHashFromTorrent(torrentBytes []byte) (string, error) {
	var metainfo struct {
		Info bencode.RawMessage `bencode:"info"`
	}
	if err := bencode.DecodeBytes(torrentBytes, &metainfo); err != nil {
		return "", fmt.Errorf("Couldn't decode torrent file: %v", err)
	}
	if len(metainfo.Info) == 0 {
		return "", fmt.Errorf("Torrent file has no info dictionary")
	}
	sum := sha1.Sum(metainfo.Info)
	return hex.EncodeToString(sum[:]), nil
}
