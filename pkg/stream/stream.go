// Package stream defines the candidate type that flows from addons and
// the library search through the processing pipeline.
package stream

import (
	"strconv"
	"time"

	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

// Type discriminates how a candidate is delivered.
type Type string

const (
	TypeTorrent Type = "torrent"
	TypeUsenet  Type = "usenet"
	TypeHTTP    Type = "http"
	TypeP2P     Type = "p2p"
)

// ServiceInfo describes the debrid service a candidate plays through.
type ServiceInfo struct {
	ID string
	// Cached is set once an availability check confirmed the content.
	Cached bool
	// Owned means the item already sits in the user's library.
	Owned bool
	// ItemID is the service-side item ID when known (library results).
	ItemID string
}

// Stream is one stream candidate. Addons produce them unconfirmed; the
// library search produces confirmed ones; the processor filters, sorts
// and dedupes them.
type Stream struct {
	// Addon is the display name of the producing addon, or "library".
	Addon string
	Type  Type

	// Delivery. URL for ready-to-play or resolvable streams, InfoHash
	// (+FileIndex) for torrents. FileIndex is -1 when unknown.
	URL       string
	InfoHash  string
	FileIndex int
	// NZB is the fetch URL for usenet candidates.
	NZB string

	// Raw naming as received from the producer.
	Title      string
	Filename   string
	FolderName string

	Size    int64
	Seeders int
	AddedAt time.Time

	Service ServiceInfo
	// Confirmed means the content is known to match the request (library
	// results), as opposed to inferred from the release name.
	Confirmed bool
	// Library marks results that came from the user's own library.
	Library bool

	// Parsed is filled by the processor's enrich step (or by the library
	// search, which already parsed the item).
	Parsed titleparser.ParsedFile

	BingeGroup string
}

// DedupeKey identifies interchangeable streams: same content hash and
// same file choice. Streams without a hash are never considered
// duplicates of each other.
func (s Stream) DedupeKey() string {
	if s.InfoHash == "" {
		return ""
	}
	if s.FileIndex < 0 {
		return s.InfoHash + ":default"
	}
	return s.InfoHash + ":" + strconv.Itoa(s.FileIndex)
}
