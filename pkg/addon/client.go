package addon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/stream"
	"github.com/aiostreams/aiostreams/pkg/stremio"
)

// ClientOptions configure all addon clients.
type ClientOptions struct {
	// Timeout is the default per-request timeout, used when a preset
	// doesn't set its own.
	Timeout   time.Duration
	UserAgent string
	Logger    *zap.Logger
}

var DefaultClientOpts = ClientOptions{
	Timeout:   10 * time.Second,
	UserAgent: "aiostreams",
}

// AddonError is a non-fatal per-addon failure, reported alongside the
// successful results.
type AddonError struct {
	// Title is the addon's display name.
	Title string
	// Description says what went wrong ("timeout", HTTP status, ...).
	Description string
}

func (e AddonError) Error() string {
	return e.Title + ": " + e.Description
}

// Client is one addon instance.
type Client struct {
	preset     Preset
	name       string
	serviceID  string
	keepP2P    bool
	httpClient *http.Client
	userAgent  string
	logger     *zap.Logger
}

func newClient(p Preset, opts ClientOptions) *Client {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = opts.Timeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		preset: p,
		name:   p.Name,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent: opts.UserAgent,
		logger:    logger,
	}
}

// Name returns the instance's display name (preset name, possibly
// annotated with the service or P2P suffix).
func (c *Client) Name() string {
	return c.name
}

// ServiceID returns the debrid service this instance's results play
// through, or "" for service-less instances.
func (c *Client) ServiceID() string {
	return c.serviceID
}

// Timeout returns the instance's per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// HandlesType reports whether this instance answers requests of the
// given media type.
func (c *Client) HandlesType(mediaType string) bool {
	if len(c.preset.MediaTypes) == 0 {
		return true
	}
	for _, t := range c.preset.MediaTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}

// Manifest fetches the addon's manifest and derives its capabilities.
func (c *Client) Manifest(ctx context.Context) (stremio.Manifest, Capabilities, error) {
	body, err := c.get(ctx, "/manifest.json")
	if err != nil {
		return stremio.Manifest{}, Capabilities{}, fmt.Errorf("Couldn't fetch manifest from %v: %w", c.name, err)
	}
	var manifest stremio.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return stremio.Manifest{}, Capabilities{}, fmt.Errorf("Couldn't unmarshal manifest from %v: %v", c.name, err)
	}

	var caps Capabilities
	// "resources" entries are either plain strings or objects
	for _, res := range gjson.GetBytes(body, "resources").Array() {
		name := res.String()
		if res.IsObject() {
			name = res.Get("name").String()
		}
		switch name {
		case "stream":
			caps.Streams = true
		case "catalog":
			caps.Catalog = true
		case "meta":
			caps.Meta = true
		case "subtitles":
			caps.Subtitles = true
		}
	}
	return manifest, caps, nil
}

// Streams fetches stream candidates. It never returns a Go error:
// failures become AddonErrors so one broken addon can't fail the
// aggregation.
func (c *Client) Streams(ctx context.Context, mediaType, id string) ([]stream.Stream, []AddonError) {
	if !c.HandlesType(mediaType) {
		return nil, nil
	}

	body, err := c.get(ctx, "/stream/"+mediaType+"/"+id+".json")
	if err != nil {
		return nil, []AddonError{c.errorFor(err)}
	}

	var streams []stream.Stream
	for _, raw := range gjson.GetBytes(body, "streams").Array() {
		if shouldSkip(raw) {
			continue
		}
		st, ok := c.parseStream(raw)
		if !ok {
			continue
		}
		streams = append(streams, st)
	}
	c.logger.Debug("Fetched addon streams", zap.String("addon", c.name), zap.Int("streams", len(streams)))
	return streams, nil
}

// Catalog fetches one catalog page.
func (c *Client) Catalog(ctx context.Context, mediaType, catalogID, extra string) ([]stremio.MetaPreviewItem, error) {
	path := "/catalog/" + mediaType + "/" + catalogID
	if extra != "" {
		path += "/" + extra
	}
	body, err := c.get(ctx, path+".json")
	if err != nil {
		return nil, fmt.Errorf("Couldn't fetch catalog from %v: %w", c.name, err)
	}
	var res struct {
		Metas []stremio.MetaPreviewItem `json:"metas"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("Couldn't unmarshal catalog from %v: %v", c.name, err)
	}
	return res.Metas, nil
}

// Meta fetches one meta item.
func (c *Client) Meta(ctx context.Context, mediaType, id string) (stremio.MetaItem, error) {
	body, err := c.get(ctx, "/meta/"+mediaType+"/"+id+".json")
	if err != nil {
		return stremio.MetaItem{}, fmt.Errorf("Couldn't fetch meta from %v: %w", c.name, err)
	}
	var res struct {
		Meta stremio.MetaItem `json:"meta"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return stremio.MetaItem{}, fmt.Errorf("Couldn't unmarshal meta from %v: %v", c.name, err)
	}
	return res.Meta, nil
}

// Subtitles fetches subtitle entries.
func (c *Client) Subtitles(ctx context.Context, mediaType, id string) ([]stremio.SubtitleItem, error) {
	body, err := c.get(ctx, "/subtitles/"+mediaType+"/"+id+".json")
	if err != nil {
		return nil, fmt.Errorf("Couldn't fetch subtitles from %v: %w", c.name, err)
	}
	var res struct {
		Subtitles []stremio.SubtitleItem `json:"subtitles"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("Couldn't unmarshal subtitles from %v: %v", c.name, err)
	}
	return res.Subtitles, nil
}

func (c *Client) errorFor(err error) AddonError {
	description := err.Error()
	if isTimeout(err) {
		description = "timeout"
	}
	return AddonError{Title: c.name, Description: description}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

var (
	seedersRE = regexp.MustCompile(`👤\s*(\d+)`)
	sizeRE    = regexp.MustCompile(`(?i)[💾📦]?\s*([\d.]+)\s*(KB|MB|GB|TB)\b`)
)

// parseStream converts one upstream stream object into a candidate.
func (c *Client) parseStream(raw gjson.Result) (stream.Stream, bool) {
	st := stream.Stream{
		Addon:     c.name,
		URL:       raw.Get("url").String(),
		FileIndex: -1,
		Service:   stream.ServiceInfo{ID: c.serviceID},
	}

	st.InfoHash, _ = debrid.NormalizeInfoHash(raw.Get("infoHash").String())
	if raw.Get("fileIdx").Exists() {
		st.FileIndex = int(raw.Get("fileIdx").Int())
	}
	if st.URL == "" && st.InfoHash == "" {
		return stream.Stream{}, false
	}

	// Raw naming: "description" (newer addons) or "title" carry the
	// release details, "name" carries the addon/quality banner.
	st.Title = raw.Get("description").String()
	if st.Title == "" {
		st.Title = raw.Get("title").String()
	}
	if st.Title == "" {
		st.Title = raw.Get("name").String()
	}

	if hints := raw.Get("behaviorHints"); hints.Exists() {
		st.Filename = hints.Get("filename").String()
		st.Size = hints.Get("videoSize").Int()
		st.BingeGroup = hints.Get("bingeGroup").String()
	}
	if st.Filename == "" {
		st.Filename = filenameFromTitle(st.Title)
	}
	if st.Size == 0 {
		st.Size = sizeFromTitle(st.Title)
	}
	if m := seedersRE.FindStringSubmatch(st.Title); m != nil {
		fmt.Sscanf(m[1], "%d", &st.Seeders)
	}

	switch {
	case st.URL != "":
		st.Type = stream.TypeHTTP
	case c.keepP2P:
		st.Type = stream.TypeP2P
	default:
		st.Type = stream.TypeTorrent
	}

	// Raw p2p results are only useful from a p2p instance or with a
	// service that can turn the hash into a cached link
	if st.Type == stream.TypeTorrent && st.Service.ID == "" {
		return stream.Stream{}, false
	}
	return st, true
}

// shouldSkip filters junk entries some addons mix into their results.
func shouldSkip(raw gjson.Result) bool {
	for _, field := range []string{"name", "title", "description"} {
		v := raw.Get(field).String()
		if v == "" {
			continue
		}
		if strings.HasPrefix(v, "❌") || strings.HasPrefix(v, "⚠️") {
			return true
		}
		lower := strings.ToLower(v)
		if strings.Contains(lower, "not yet released") || strings.Contains(lower, "digitally released") {
			return true
		}
	}
	return false
}

// filenameFromTitle pulls a filename-looking line out of a multi-line
// stream title.
func filenameFromTitle(title string) string {
	for _, line := range strings.Split(title, "\n") {
		line = strings.TrimSpace(line)
		for _, ext := range []string{".mkv", ".mp4", ".avi", ".ts"} {
			if strings.HasSuffix(strings.ToLower(line), ext) {
				return line
			}
		}
	}
	return ""
}

func sizeFromTitle(title string) int64 {
	m := sizeRE.FindStringSubmatch(title)
	if m == nil {
		return 0
	}
	var value float64
	fmt.Sscanf(m[1], "%f", &value)
	switch strings.ToUpper(m[2]) {
	case "KB":
		return int64(value * 1024)
	case "MB":
		return int64(value * 1024 * 1024)
	case "GB":
		return int64(value * 1024 * 1024 * 1024)
	case "TB":
		return int64(value * 1024 * 1024 * 1024 * 1024)
	}
	return 0
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(c.preset.URL, "/")+path, nil)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create request: %v", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad HTTP response status: %v", res.Status)
	}
	return ioutil.ReadAll(res.Body)
}
