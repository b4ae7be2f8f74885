package stremio

// Manifest describes the capabilities of the addon.
// See https://github.com/Stremio/stremio-addon-sdk/blob/master/docs/api/responses/manifest.md
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// One of the following is required
	// Note: Can only have one in code because of how Go (de-)serialization works
	//Resources     []string       `json:"resources,omitempty"`
	ResourceItems []ResourceItem `json:"resources,omitempty"`

	Types    []string      `json:"types"`
	Catalogs []CatalogItem `json:"catalogs"`

	// Optional
	IDprefixes    []string              `json:"idPrefixes,omitempty"`
	Background    string                `json:"background,omitempty"` // URL
	Logo          string                `json:"logo,omitempty"`       // URL
	ContactEmail  string                `json:"contactEmail,omitempty"`
	BehaviorHints ManifestBehaviorHints `json:"behaviorHints,omitempty"`
}

type ResourceItem struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`

	// Optional
	IDprefixes []string `json:"idPrefixes,omitempty"`
}

type ManifestBehaviorHints struct {
	// Note: Must include `omitempty`, otherwise it will be included if this struct is used in another one, even if the field of the containing struct is marked as `omitempty`
	Adult        bool `json:"adult,omitempty"`
	P2P          bool `json:"p2p,omitempty"`
	Configurable bool `json:"configurable,omitempty"`
}

// CatalogItem represents an item in the catalog
type CatalogItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`

	// Optional
	Extra []ExtraItem `json:"extra,omitempty"`
}

type ExtraItem struct {
	Name string `json:"name"`

	// Optional
	IsRequired   bool     `json:"isRequired,omitempty"`
	Options      []string `json:"options,omitempty"`
	OptionsLimit int      `json:"optionsLimit,omitempty"`
}

// MetaPreviewItem represents a meta item and is meant to be used within catalog responses.
// See https://github.com/Stremio/stremio-addon-sdk/blob/master/docs/api/responses/meta.md
type MetaPreviewItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Poster string `json:"poster"` // URL

	// Optional
	PosterShape string `json:"posterShape,omitempty"`
	Background  string `json:"background,omitempty"` // URL
	Logo        string `json:"logo,omitempty"`       // URL
	Description string `json:"description,omitempty"`
}

// MetaItem represents a meta item and is meant to be used when info for a specific item was requested.
// Catalog responses contain MetaPreviewItem objects.
// See https://github.com/Stremio/stremio-addon-sdk/blob/master/docs/api/responses/meta.md
type MetaItem struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`

	// Optional
	Poster      string      `json:"poster,omitempty"` // URL
	PosterShape string      `json:"posterShape,omitempty"`
	Background  string      `json:"background,omitempty"` // URL
	Logo        string      `json:"logo,omitempty"`       // URL
	Description string      `json:"description,omitempty"`
	Released    string      `json:"released,omitempty"` // Must be ISO 8601, e.g. "2010-12-06T05:00:00.000Z"
	Videos      []VideoItem `json:"videos,omitempty"`
	Runtime     string      `json:"runtime,omitempty"`
	Language    string      `json:"language,omitempty"`

	BehaviorHints *MetaBehaviorHints `json:"behaviorHints,omitempty"`
}

type MetaBehaviorHints struct {
	// DefaultVideoID makes Stremio skip the episode picker and play this
	// video directly.
	DefaultVideoID string `json:"defaultVideoId,omitempty"`
}

type VideoItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Released string `json:"released"` // Must be ISO 8601, e.g. "2010-12-06T05:00:00.000Z"

	// Optional
	Thumbnail string `json:"thumbnail,omitempty"` // URL
	Available bool   `json:"available,omitempty"`
	Episode   int    `json:"episode,omitempty"`
	Season    int    `json:"season,omitempty"`
	Overview  string `json:"overview,omitempty"`
}

// StreamItem represents a stream for a MetaItem.
// See https://github.com/Stremio/stremio-addon-sdk/blob/master/docs/api/responses/stream.md
type StreamItem struct {
	// One of the following is required
	URL         string `json:"url,omitempty"` // URL
	YoutubeID   string `json:"ytId,omitempty"`
	InfoHash    string `json:"infoHash,omitempty"`
	ExternalURL string `json:"externalUrl,omitempty"` // URL

	// Optional
	Name        string   `json:"name,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	FileIndex   int      `json:"fileIdx,omitempty"` // Only when using InfoHash
	Sources     []string `json:"sources,omitempty"`

	BehaviorHints *StreamBehaviorHints `json:"behaviorHints,omitempty"`
}

type StreamBehaviorHints struct {
	CountryWhitelist []string `json:"countryWhitelist,omitempty"`
	NotWebReady      bool     `json:"notWebReady,omitempty"`
	// Streams with the same BingeGroup are considered interchangeable when Stremio autoplays the next episode
	BingeGroup string `json:"bingeGroup,omitempty"`
	Filename   string `json:"filename,omitempty"`
	VideoSize  int64  `json:"videoSize,omitempty"`
}

// SubtitleItem represents a subtitles entry in a subtitles response.
type SubtitleItem struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Lang string `json:"lang"`
}
