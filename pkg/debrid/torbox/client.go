// Package torbox is a client for the TorBox API. TorBox handles both
// torrents and usenet downloads.
package torbox

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/cache"
	"github.com/aiostreams/aiostreams/pkg/debrid"
)

type ClientOptions = debrid.ClientOptions

var DefaultClientOpts = ClientOptions{
	BaseURL:  "https://api.torbox.app/v1",
	Timeout:  15 * time.Second,
	CacheAge: 24 * time.Hour,
}

// Client talks to TorBox. It implements debrid.Service,
// debrid.TorrentClient and debrid.UsenetClient.
type Client struct {
	opts       ClientOptions
	httpClient *http.Client
	// For token validity
	tokenCache cache.Cache
	// For info_hash instant availability
	availabilityCache cache.Cache
	logger            *zap.Logger
}

func NewClient(opts ClientOptions, tokenCache, availabilityCache cache.Cache, logger *zap.Logger) (*Client, error) {
	// Precondition check
	if opts.BaseURL == "" {
		return nil, errors.New("opts.BaseURL must not be empty")
	}
	if opts.Token == "" {
		return nil, errors.New("opts.Token must not be empty")
	}

	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		tokenCache:        tokenCache,
		availabilityCache: availabilityCache,
		logger:            logger,
	}, nil
}

var _ debrid.Service = (*Client)(nil)
var _ debrid.TorrentClient = (*Client)(nil)
var _ debrid.UsenetClient = (*Client)(nil)

func (c *Client) ID() string {
	return "torbox"
}

func (c *Client) Name() string {
	return "TorBox"
}

func (c *Client) TestToken(ctx context.Context) error {
	zapFieldDebridService := zap.String("debridService", "TorBox")
	c.logger.Debug("Testing token...", zapFieldDebridService)

	// Only valid tokens are cached. An invalid token can become valid
	// again within the cache age when the user renews their plan.
	if _, found, err := cache.GobGet(ctx, c.tokenCache, c.opts.Token, new(bool)); err != nil {
		c.logger.Error("Couldn't decode token cache item", zap.Error(err), zapFieldDebridService)
	} else if found {
		c.logger.Debug("Token cached as valid", zapFieldDebridService)
		return nil
	}

	resBytes, err := c.get(ctx, "/api/user/me", nil)
	if err != nil {
		return fmt.Errorf("Couldn't fetch user info from TorBox: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return debrid.NewError(debrid.ErrUnauthorized, fmt.Errorf("TorBox rejected the token: %v", gjson.GetBytes(resBytes, "detail").String()))
	}

	c.logger.Debug("Token OK", zapFieldDebridService)
	if err := cache.GobSet(ctx, c.tokenCache, c.opts.Token, true, c.opts.CacheAge); err != nil {
		c.logger.Error("Couldn't cache token", zap.Error(err), zapFieldDebridService)
	}
	return nil
}

// CheckHashes implements debrid.TorrentClient. Availability is cached;
// unavailable hashes are not cached because that can change any time.
func (c *Client) CheckHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	zapFieldDebridService := zap.String("debridService", "TorBox")

	return debrid.CheckHashesChunked(ctx, hashes, func(ctx context.Context, batch []string) (map[string]bool, error) {
		result := make(map[string]bool, len(batch))
		var unknown []string
		for _, hash := range batch {
			if _, found, err := cache.GobGet(ctx, c.availabilityCache, hash, new(bool)); err == nil && found {
				result[hash] = true
			} else {
				unknown = append(unknown, hash)
			}
		}
		if len(unknown) == 0 {
			c.logger.Debug("Availability for all info hashes cached", zapFieldDebridService)
			return result, nil
		}

		resBytes, err := c.get(ctx, "/api/torrents/checkcached", url.Values{
			"hash":   {strings.Join(unknown, ",")},
			"format": {"object"},
		})
		if err != nil {
			return result, fmt.Errorf("Couldn't check instant availability on TorBox: %w", err)
		}
		data := gjson.GetBytes(resBytes, "data")
		for _, hash := range unknown {
			if !data.Get(hash).Exists() {
				continue
			}
			result[hash] = true
			if err := cache.GobSet(ctx, c.availabilityCache, hash, true, c.opts.CacheAge); err != nil {
				c.logger.Error("Couldn't cache availability", zap.Error(err), zapFieldDebridService)
			}
		}
		return result, nil
	})
}

// AddMagnet implements debrid.TorrentClient.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (debrid.Download, error) {
	zapFieldDebridService := zap.String("debridService", "TorBox")
	c.logger.Debug("Adding magnet to TorBox...", zapFieldDebridService)

	resBytes, err := c.postForm(ctx, "/api/torrents/createtorrent", url.Values{
		"magnet": {magnet},
	})
	if err != nil {
		return debrid.Download{}, fmt.Errorf("Couldn't add magnet to TorBox: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return debrid.Download{}, c.errorFromDetail(resBytes)
	}
	id := gjson.GetBytes(resBytes, "data.torrent_id").String()
	if id == "" {
		id = gjson.GetBytes(resBytes, "data.queued_id").String()
	}
	if id == "" {
		return debrid.Download{}, fmt.Errorf("Couldn't determine torrent ID in TorBox response")
	}
	c.logger.Debug("Finished adding magnet to TorBox", zap.String("torrentID", id), zapFieldDebridService)

	return c.GetTorrent(ctx, id)
}

// AddTorrent implements debrid.TorrentClient. The .torrent file behind
// the URL is only fetched to derive the info hash; the add itself goes
// through the magnet endpoint.
func (c *Client) AddTorrent(ctx context.Context, torrentURL string) (debrid.Download, error) {
	torrentBytes, err := debrid.FetchTorrent(ctx, c.httpClient, torrentURL)
	if err != nil {
		return debrid.Download{}, err
	}
	hash, err := debrid.InfoHashFromTorrent(torrentBytes)
	if err != nil {
		return debrid.Download{}, err
	}
	return c.AddMagnet(ctx, debrid.BuildMagnet(hash, "", nil))
}

// TorBox caps the list page size at 1000. The page cap bounds runaway
// accounts; 10000 items are more than a library snapshot can use anyway.
const (
	listPageSize = 1000
	maxListPages = 10
)

// list pages through a mylist endpoint until a short page or the page cap.
func (c *Client) list(ctx context.Context, path string, fromJSON func(gjson.Result) debrid.Download) ([]debrid.Download, error) {
	var downloads []debrid.Download
	for page := 0; page < maxListPages; page++ {
		resBytes, err := c.get(ctx, path, url.Values{
			"bypass_cache": {"true"},
			"offset":       {strconv.Itoa(page * listPageSize)},
			"limit":        {strconv.Itoa(listPageSize)},
		})
		if err != nil {
			return nil, err
		}
		if !gjson.GetBytes(resBytes, "success").Bool() {
			return nil, c.errorFromDetail(resBytes)
		}
		items := gjson.GetBytes(resBytes, "data").Array()
		for _, item := range items {
			downloads = append(downloads, fromJSON(item))
		}
		if len(items) < listPageSize {
			break
		}
	}
	return downloads, nil
}

// ListTorrents implements debrid.TorrentClient.
func (c *Client) ListTorrents(ctx context.Context) ([]debrid.Download, error) {
	downloads, err := c.list(ctx, "/api/torrents/mylist", torrentFromJSON)
	if err != nil {
		return nil, fmt.Errorf("Couldn't list TorBox torrents: %w", err)
	}
	return downloads, nil
}

// GetTorrent implements debrid.TorrentClient.
func (c *Client) GetTorrent(ctx context.Context, id string) (debrid.Download, error) {
	resBytes, err := c.get(ctx, "/api/torrents/mylist", url.Values{
		"id":           {id},
		"bypass_cache": {"true"},
	})
	if err != nil {
		return debrid.Download{}, fmt.Errorf("Couldn't get TorBox torrent: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return debrid.Download{}, c.errorFromDetail(resBytes)
	}
	data := gjson.GetBytes(resBytes, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return debrid.Download{}, debrid.NewError(debrid.ErrNotFound, fmt.Errorf("TorBox torrent %v not found", id))
	}
	return torrentFromJSON(data), nil
}

// RemoveTorrent implements debrid.TorrentClient.
func (c *Client) RemoveTorrent(ctx context.Context, id string) error {
	resBytes, err := c.postJSON(ctx, "/api/torrents/controltorrent", fmt.Sprintf(`{"torrent_id":%q,"operation":"delete"}`, id))
	if err != nil {
		return fmt.Errorf("Couldn't remove TorBox torrent: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return c.errorFromDetail(resBytes)
	}
	return nil
}

// GenerateTorrentLink implements debrid.TorrentClient.
func (c *Client) GenerateTorrentLink(ctx context.Context, id string, file debrid.File) (string, error) {
	return c.requestDL(ctx, "/api/torrents/requestdl", "torrent_id", id, file)
}

// CheckNzbs implements debrid.UsenetClient. Unlike info hashes, usenet
// digests have no fixed shape, so they're only lowercased, not
// validated.
func (c *Client) CheckNzbs(ctx context.Context, hashes []string) (map[string]bool, error) {
	zapFieldDebridService := zap.String("debridService", "TorBox")

	result := make(map[string]bool, len(hashes))
	var unknown []string
	for _, hash := range hashes {
		hash = strings.ToLower(hash)
		if _, found, err := cache.GobGet(ctx, c.availabilityCache, "usenet:"+hash, new(bool)); err == nil && found {
			result[hash] = true
		} else {
			unknown = append(unknown, hash)
		}
	}

	for len(unknown) > 0 {
		n := debrid.MaxHashesPerCheck
		if len(unknown) < n {
			n = len(unknown)
		}
		batch := unknown[:n]
		unknown = unknown[n:]

		resBytes, err := c.get(ctx, "/api/usenet/checkcached", url.Values{
			"hash":   {strings.Join(batch, ",")},
			"format": {"object"},
		})
		if err != nil {
			return result, fmt.Errorf("Couldn't check usenet availability on TorBox: %w", err)
		}
		data := gjson.GetBytes(resBytes, "data")
		for _, hash := range batch {
			if !data.Get(hash).Exists() {
				continue
			}
			result[hash] = true
			if err := cache.GobSet(ctx, c.availabilityCache, "usenet:"+hash, true, c.opts.CacheAge); err != nil {
				c.logger.Error("Couldn't cache availability", zap.Error(err), zapFieldDebridService)
			}
		}
	}
	return result, nil
}

// AddNZB implements debrid.UsenetClient.
func (c *Client) AddNZB(ctx context.Context, nzbURL, name string) (debrid.Download, error) {
	zapFieldDebridService := zap.String("debridService", "TorBox")
	c.logger.Debug("Adding NZB to TorBox...", zapFieldDebridService)

	data := url.Values{"link": {nzbURL}}
	if name != "" {
		data.Set("name", name)
	}
	resBytes, err := c.postForm(ctx, "/api/usenet/createusenetdownload", data)
	if err != nil {
		return debrid.Download{}, fmt.Errorf("Couldn't add NZB to TorBox: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return debrid.Download{}, c.errorFromDetail(resBytes)
	}
	id := gjson.GetBytes(resBytes, "data.usenetdownload_id").String()
	if id == "" {
		return debrid.Download{}, fmt.Errorf("Couldn't determine usenet download ID in TorBox response")
	}
	return c.GetUsenet(ctx, id)
}

// ListUsenet implements debrid.UsenetClient.
func (c *Client) ListUsenet(ctx context.Context) ([]debrid.Download, error) {
	downloads, err := c.list(ctx, "/api/usenet/mylist", usenetFromJSON)
	if err != nil {
		return nil, fmt.Errorf("Couldn't list TorBox usenet downloads: %w", err)
	}
	return downloads, nil
}

// GetUsenet implements debrid.UsenetClient.
func (c *Client) GetUsenet(ctx context.Context, id string) (debrid.Download, error) {
	resBytes, err := c.get(ctx, "/api/usenet/mylist", url.Values{
		"id":           {id},
		"bypass_cache": {"true"},
	})
	if err != nil {
		return debrid.Download{}, fmt.Errorf("Couldn't get TorBox usenet download: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return debrid.Download{}, c.errorFromDetail(resBytes)
	}
	data := gjson.GetBytes(resBytes, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return debrid.Download{}, debrid.NewError(debrid.ErrNotFound, fmt.Errorf("TorBox usenet download %v not found", id))
	}
	return usenetFromJSON(data), nil
}

// RemoveUsenet implements debrid.UsenetClient.
func (c *Client) RemoveUsenet(ctx context.Context, id string) error {
	resBytes, err := c.postJSON(ctx, "/api/usenet/controlusenetdownload", fmt.Sprintf(`{"usenet_id":%q,"operation":"delete"}`, id))
	if err != nil {
		return fmt.Errorf("Couldn't remove TorBox usenet download: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return c.errorFromDetail(resBytes)
	}
	return nil
}

// GenerateUsenetLink implements debrid.UsenetClient.
func (c *Client) GenerateUsenetLink(ctx context.Context, id string, file debrid.File) (string, error) {
	return c.requestDL(ctx, "/api/usenet/requestdl", "usenet_id", id, file)
}

func (c *Client) requestDL(ctx context.Context, path, idParam, id string, file debrid.File) (string, error) {
	params := url.Values{
		"token": {c.opts.Token},
		idParam: {id},
	}
	if file.Index >= 0 {
		params.Set("file_id", strconv.Itoa(file.Index))
	}
	if c.opts.ClientIP != "" {
		params.Set("user_ip", c.opts.ClientIP)
	}
	resBytes, err := c.get(ctx, path, params)
	if err != nil {
		return "", fmt.Errorf("Couldn't request download link from TorBox: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return "", c.errorFromDetail(resBytes)
	}
	streamURL := gjson.GetBytes(resBytes, "data").String()
	if streamURL == "" {
		return "", fmt.Errorf("Couldn't find download link in TorBox response")
	}
	return streamURL, nil
}

func torrentFromJSON(item gjson.Result) debrid.Download {
	d := debrid.Download{
		ID:       item.Get("id").String(),
		Name:     item.Get("name").String(),
		Hash:     strings.ToLower(item.Get("hash").String()),
		Size:     item.Get("size").Int(),
		Progress: item.Get("progress").Float(),
		Kind:     "torrent",
		Status:   statusFromTorBox(item),
	}
	if created := item.Get("created_at").String(); created != "" {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			d.Added = t
		}
	}
	for _, f := range item.Get("files").Array() {
		d.Files = append(d.Files, debrid.File{
			Index: int(f.Get("id").Int()),
			Name:  f.Get("short_name").String(),
			Path:  f.Get("name").String(),
			Size:  f.Get("size").Int(),
		})
	}
	return d
}

func usenetFromJSON(item gjson.Result) debrid.Download {
	d := torrentFromJSON(item)
	d.Hash = ""
	d.Kind = "usenet"
	return d
}

func statusFromTorBox(item gjson.Result) debrid.Status {
	if item.Get("download_present").Bool() || item.Get("download_finished").Bool() {
		if item.Get("cached").Bool() {
			return debrid.StatusCached
		}
		return debrid.StatusDownloaded
	}
	switch state := item.Get("download_state").String(); state {
	case "downloading", "uploading", "metaDL", "checkingResumeData":
		return debrid.StatusDownloading
	case "error", "stalled (no seeds)", "failed", "missingFiles":
		return debrid.StatusError
	default:
		return debrid.StatusQueued
	}
}

func (c *Client) errorFromDetail(resBytes []byte) error {
	detail := gjson.GetBytes(resBytes, "detail").String()
	errCode := gjson.GetBytes(resBytes, "error").String()
	switch errCode {
	case "BAD_TOKEN", "AUTH_ERROR", "OAUTH_VERIFICATION_ERROR":
		return debrid.NewError(debrid.ErrUnauthorized, errors.New(detail))
	case "ACTIVE_LIMIT", "MONTHLY_LIMIT", "COOLDOWN_LIMIT", "PLAN_RESTRICTED_FEATURE":
		return debrid.NewError(debrid.ErrStoreLimitExceeded, errors.New(detail))
	case "DOWNLOAD_NOT_FOUND", "NOT_FOUND":
		return debrid.NewError(debrid.ErrNotFound, errors.New(detail))
	default:
		return debrid.NewError(debrid.ErrUnknown, fmt.Errorf("TorBox error response: %v: %v", errCode, detail))
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := c.opts.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, reqURL, "", "")
}

func (c *Client) postForm(ctx context.Context, path string, data url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodPost, c.opts.BaseURL+path, "application/x-www-form-urlencoded", data.Encode())
}

func (c *Client) postJSON(ctx context.Context, path, body string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, c.opts.BaseURL+path, "application/json", body)
}

// do sends the request and retries on rate limiting with backoff.
func (c *Client) do(ctx context.Context, method, reqURL, contentType, body string) ([]byte, error) {
	var resBytes []byte
	err := retry.Do(
		func() error {
			var bodyReader *strings.Reader
			if body != "" {
				bodyReader = strings.NewReader(body)
			} else {
				bodyReader = strings.NewReader("")
			}
			req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("Couldn't create %v request: %v", method, err))
			}
			req.Header.Set("Authorization", "Bearer "+c.opts.Token)
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}

			res, err := c.httpClient.Do(req)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("Couldn't send %v request: %v", method, err))
			}
			defer res.Body.Close()

			resBody, err := ioutil.ReadAll(res.Body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("Couldn't read response body: %v", err))
			}
			if res.StatusCode == http.StatusTooManyRequests {
				return debrid.NewHTTPError(res.StatusCode, res.Status, string(resBody))
			}
			if res.StatusCode != http.StatusOK {
				return retry.Unrecoverable(debrid.NewHTTPError(res.StatusCode, res.Status, string(resBody)))
			}
			resBytes = resBody
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	return resBytes, err
}
