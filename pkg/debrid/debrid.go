// Package debrid defines the common types and capability interfaces for
// debrid services, plus shared helpers for info hashes, magnets and
// batched availability checks. Service-specific clients live in
// subpackages.
package debrid

import (
	"context"
	"time"
)

// Status is the lifecycle state of an item on a debrid service.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	// StatusCached means the content is instantly available without the
	// service having to download anything.
	StatusCached     Status = "cached"
	StatusDownloaded Status = "downloaded"
	StatusError      Status = "error"
)

// Playable reports whether an item in this status can be streamed.
func (s Status) Playable() bool {
	return s == StatusCached || s == StatusDownloaded
}

// File is a single file within a download.
type File struct {
	// Index within the download, or -1 when the service doesn't expose one.
	Index int
	Name  string
	// Path including parent folders, when the service exposes it.
	Path string
	Size int64
	// Link is the service-internal link used to generate a stream URL.
	Link string
}

// Download is a torrent or usenet item on a debrid service.
type Download struct {
	ID   string
	Name string
	// Hash is the info hash for torrents, empty for usenet items.
	Hash     string
	Size     int64
	Status   Status
	Progress float64
	Files    []File
	Added    time.Time
	// Kind is "torrent" or "usenet".
	Kind string
}

// TorrentClient is implemented by services that handle torrents.
type TorrentClient interface {
	// CheckHashes reports which of the given info hashes are instantly
	// available. Hashes are passed lowercase; the result keys are lowercase.
	CheckHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	// AddMagnet submits a magnet and returns the resulting item. When the
	// content is cached, the returned status is already playable.
	AddMagnet(ctx context.Context, magnet string) (Download, error)
	// AddTorrent submits the torrent behind a .torrent file URL.
	AddTorrent(ctx context.Context, torrentURL string) (Download, error)
	ListTorrents(ctx context.Context) ([]Download, error)
	GetTorrent(ctx context.Context, id string) (Download, error)
	RemoveTorrent(ctx context.Context, id string) error
	// GenerateTorrentLink turns a file of a downloaded item into a direct
	// stream URL, bound to the client IP when one is configured.
	GenerateTorrentLink(ctx context.Context, id string, file File) (string, error)
}

// UsenetClient is implemented by services that handle usenet downloads.
type UsenetClient interface {
	// CheckNzbs reports which of the given NZB content digests are
	// instantly available. Digests are passed lowercase; the result keys
	// are lowercase.
	CheckNzbs(ctx context.Context, hashes []string) (map[string]bool, error)
	AddNZB(ctx context.Context, nzbURL, name string) (Download, error)
	ListUsenet(ctx context.Context) ([]Download, error)
	GetUsenet(ctx context.Context, id string) (Download, error)
	RemoveUsenet(ctx context.Context, id string) error
	GenerateUsenetLink(ctx context.Context, id string, file File) (string, error)
}

// Service is the common surface of all debrid clients. Capability
// interfaces are discovered with type assertions on the Service value.
type Service interface {
	// ID is the stable lowercase identifier ("torbox", "stremthru", ...).
	ID() string
	// Name is the human-readable service name.
	Name() string
	// TestToken checks whether the configured token is valid. Valid
	// results are cached.
	TestToken(ctx context.Context) error
}

// ClientOptions configure a debrid service client.
type ClientOptions struct {
	BaseURL string
	// Token authenticates all requests.
	Token string
	// ClientIP is forwarded to the service so generated links work for
	// the user instead of for this server.
	ClientIP string
	Timeout  time.Duration
	// CacheAge is the maximum age for cached availability and token
	// validity results.
	CacheAge time.Duration
}

func NewClientOpts(baseURL, token, clientIP string, timeout, cacheAge time.Duration) ClientOptions {
	return ClientOptions{
		BaseURL:  baseURL,
		Token:    token,
		ClientIP: clientIP,
		Timeout:  timeout,
		CacheAge: cacheAge,
	}
}
