// Package stremthru is a client for the StremThru store API, which
// exposes a unified torrent interface over several debrid services.
package stremthru

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/cache"
	"github.com/aiostreams/aiostreams/pkg/debrid"
)

// ClientOptions configure the StremThru client. StoreName selects which
// underlying debrid service StremThru proxies to; empty means the
// store that's bound to the token.
type ClientOptions struct {
	debrid.ClientOptions
	StoreName string
}

func NewClientOpts(baseURL, token, clientIP, storeName string, timeout, cacheAge time.Duration) ClientOptions {
	return ClientOptions{
		ClientOptions: debrid.NewClientOpts(baseURL, token, clientIP, timeout, cacheAge),
		StoreName:     storeName,
	}
}

var DefaultClientOpts = ClientOptions{
	ClientOptions: debrid.ClientOptions{
		Timeout:  15 * time.Second,
		CacheAge: 24 * time.Hour,
	},
}

// Client talks to a StremThru instance. It implements debrid.Service and
// debrid.TorrentClient; StremThru has no usenet surface.
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

func (c *Client) ID() string {
	if c.opts.StoreName != "" {
		return "stremthru-" + c.opts.StoreName
	}
	return "stremthru"
}

func (c *Client) Name() string {
	if c.opts.StoreName != "" {
		return "StremThru (" + c.opts.StoreName + ")"
	}
	return "StremThru"
}

func (c *Client) TestToken(ctx context.Context) error {
	zapFieldDebridService := zap.String("debridService", c.Name())
	c.logger.Debug("Testing token...", zapFieldDebridService)

	if _, found, err := cache.GobGet(ctx, c.tokenCache, c.ID()+":"+c.opts.Token, new(bool)); err != nil {
		c.logger.Error("Couldn't decode token cache item", zap.Error(err), zapFieldDebridService)
	} else if found {
		c.logger.Debug("Token cached as valid", zapFieldDebridService)
		return nil
	}

	resBytes, err := c.do(ctx, http.MethodGet, "/v0/store/user", "")
	if err != nil {
		return fmt.Errorf("Couldn't fetch user info from StremThru: %w", err)
	}
	if gjson.GetBytes(resBytes, "data.id").String() == "" {
		return debrid.NewError(debrid.ErrUnauthorized, errorFromBody(resBytes))
	}

	c.logger.Debug("Token OK", zapFieldDebridService)
	if err := cache.GobSet(ctx, c.tokenCache, c.ID()+":"+c.opts.Token, true, c.opts.CacheAge); err != nil {
		c.logger.Error("Couldn't cache token", zap.Error(err), zapFieldDebridService)
	}
	return nil
}

// CheckHashes implements debrid.TorrentClient.
func (c *Client) CheckHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	zapFieldDebridService := zap.String("debridService", c.Name())

	return debrid.CheckHashesChunked(ctx, hashes, func(ctx context.Context, batch []string) (map[string]bool, error) {
		result := make(map[string]bool, len(batch))
		var unknown []string
		for _, hash := range batch {
			if _, found, err := cache.GobGet(ctx, c.availabilityCache, c.ID()+":"+hash, new(bool)); err == nil && found {
				result[hash] = true
			} else {
				unknown = append(unknown, hash)
			}
		}
		if len(unknown) == 0 {
			c.logger.Debug("Availability for all info hashes cached", zapFieldDebridService)
			return result, nil
		}

		params := url.Values{"magnet": {strings.Join(unknown, ",")}}
		resBytes, err := c.do(ctx, http.MethodGet, "/v0/store/magnets/check?"+params.Encode(), "")
		if err != nil {
			return result, fmt.Errorf("Couldn't check instant availability on StremThru: %w", err)
		}
		for _, item := range gjson.GetBytes(resBytes, "data.items").Array() {
			if item.Get("status").String() != "cached" {
				continue
			}
			hash, ok := debrid.NormalizeInfoHash(item.Get("hash").String())
			if !ok {
				continue
			}
			result[hash] = true
			if err := cache.GobSet(ctx, c.availabilityCache, c.ID()+":"+hash, true, c.opts.CacheAge); err != nil {
				c.logger.Error("Couldn't cache availability", zap.Error(err), zapFieldDebridService)
			}
		}
		return result, nil
	})
}

// AddMagnet implements debrid.TorrentClient.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (debrid.Download, error) {
	zapFieldDebridService := zap.String("debridService", c.Name())
	c.logger.Debug("Adding magnet to StremThru...", zapFieldDebridService)

	resBytes, err := c.do(ctx, http.MethodPost, "/v0/store/magnets", fmt.Sprintf(`{"magnet":%q}`, magnet))
	if err != nil {
		return debrid.Download{}, fmt.Errorf("Couldn't add magnet to StremThru: %w", err)
	}
	data := gjson.GetBytes(resBytes, "data")
	if data.Get("id").String() == "" {
		return debrid.Download{}, errorFromBody(resBytes)
	}
	c.logger.Debug("Finished adding magnet to StremThru", zap.String("magnetID", data.Get("id").String()), zapFieldDebridService)
	return downloadFromJSON(data), nil
}

// AddTorrent implements debrid.TorrentClient. StremThru only takes
// magnets, so the .torrent file behind the URL is fetched to derive the
// info hash and the add goes through AddMagnet.
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

// StremThru caps the list page size at 500. The page cap bounds runaway
// accounts.
const (
	listPageSize = 500
	maxListPages = 10
)

// ListTorrents implements debrid.TorrentClient. It pages through the
// account's magnets until a short page or the page cap.
func (c *Client) ListTorrents(ctx context.Context) ([]debrid.Download, error) {
	var downloads []debrid.Download
	for page := 0; page < maxListPages; page++ {
		path := fmt.Sprintf("/v0/store/magnets?limit=%d&offset=%d", listPageSize, page*listPageSize)
		resBytes, err := c.do(ctx, http.MethodGet, path, "")
		if err != nil {
			return nil, fmt.Errorf("Couldn't list StremThru magnets: %w", err)
		}
		items := gjson.GetBytes(resBytes, "data.items").Array()
		for _, item := range items {
			downloads = append(downloads, downloadFromJSON(item))
		}
		if len(items) < listPageSize {
			break
		}
	}
	return downloads, nil
}

// GetTorrent implements debrid.TorrentClient.
func (c *Client) GetTorrent(ctx context.Context, id string) (debrid.Download, error) {
	resBytes, err := c.do(ctx, http.MethodGet, "/v0/store/magnets/"+url.PathEscape(id), "")
	if err != nil {
		return debrid.Download{}, fmt.Errorf("Couldn't get StremThru magnet: %w", err)
	}
	data := gjson.GetBytes(resBytes, "data")
	if data.Get("id").String() == "" {
		return debrid.Download{}, debrid.NewError(debrid.ErrNotFound, errorFromBody(resBytes))
	}
	return downloadFromJSON(data), nil
}

// RemoveTorrent implements debrid.TorrentClient.
func (c *Client) RemoveTorrent(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v0/store/magnets/"+url.PathEscape(id), "")
	if err != nil {
		return fmt.Errorf("Couldn't remove StremThru magnet: %w", err)
	}
	return nil
}

// GenerateTorrentLink implements debrid.TorrentClient.
func (c *Client) GenerateTorrentLink(ctx context.Context, id string, file debrid.File) (string, error) {
	if file.Link == "" {
		return "", debrid.NewError(debrid.ErrNoMatchingFile, fmt.Errorf("StremThru magnet %v file has no link", id))
	}
	resBytes, err := c.do(ctx, http.MethodPost, "/v0/store/link/generate", fmt.Sprintf(`{"link":%q}`, file.Link))
	if err != nil {
		return "", fmt.Errorf("Couldn't generate StremThru link: %w", err)
	}
	streamURL := gjson.GetBytes(resBytes, "data.link").String()
	if streamURL == "" {
		return "", errorFromBody(resBytes)
	}
	return streamURL, nil
}

func downloadFromJSON(data gjson.Result) debrid.Download {
	d := debrid.Download{
		ID:     data.Get("id").String(),
		Name:   data.Get("name").String(),
		Kind:   "torrent",
		Status: statusFromStremThru(data.Get("status").String()),
	}
	d.Hash, _ = debrid.NormalizeInfoHash(data.Get("hash").String())
	if added := data.Get("added_at").String(); added != "" {
		if t, err := time.Parse(time.RFC3339, added); err == nil {
			d.Added = t
		}
	}
	for i, f := range data.Get("files").Array() {
		index := int(f.Get("index").Int())
		if !f.Get("index").Exists() {
			index = i
		}
		file := debrid.File{
			Index: index,
			Name:  f.Get("name").String(),
			Path:  f.Get("path").String(),
			Size:  f.Get("size").Int(),
			Link:  f.Get("link").String(),
		}
		if file.Path == "" {
			file.Path = file.Name
		}
		d.Files = append(d.Files, file)
		d.Size += file.Size
	}
	return d
}

func statusFromStremThru(status string) debrid.Status {
	switch status {
	case "cached":
		return debrid.StatusCached
	case "downloaded":
		return debrid.StatusDownloaded
	case "downloading", "uploading", "processing":
		return debrid.StatusDownloading
	case "queued":
		return debrid.StatusQueued
	case "failed", "invalid", "error":
		return debrid.StatusError
	default:
		return debrid.StatusQueued
	}
}

func errorFromBody(resBytes []byte) error {
	code := gjson.GetBytes(resBytes, "error.code").String()
	msg := gjson.GetBytes(resBytes, "error.message").String()
	if code == "" && msg == "" {
		return fmt.Errorf("Unexpected StremThru response: %s", resBytes)
	}
	switch code {
	case "FORBIDDEN", "UNAUTHORIZED", "PAYMENT_REQUIRED":
		return debrid.NewError(debrid.ErrUnauthorized, fmt.Errorf("%v: %v", code, msg))
	case "STORE_LIMIT_EXCEEDED":
		return debrid.NewError(debrid.ErrStoreLimitExceeded, fmt.Errorf("%v: %v", code, msg))
	case "NOT_FOUND", "MAGNET_INVALID_ID":
		return debrid.NewError(debrid.ErrNotFound, fmt.Errorf("%v: %v", code, msg))
	case "TOO_MANY_REQUESTS":
		return debrid.NewError(debrid.ErrTooManyRequests, fmt.Errorf("%v: %v", code, msg))
	default:
		return debrid.NewError(debrid.ErrUnknown, fmt.Errorf("StremThru error response: %v: %v", code, msg))
	}
}

// do sends the request and retries on rate limiting with backoff.
func (c *Client) do(ctx context.Context, method, path string, body string) ([]byte, error) {
	var resBytes []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, strings.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("Couldn't create %v request: %v", method, err))
			}
			req.Header.Set("Authorization", "Bearer "+c.opts.Token)
			if body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if c.opts.StoreName != "" {
				req.Header.Set("X-StremThru-Store-Name", c.opts.StoreName)
			}
			if c.opts.ClientIP != "" {
				req.Header.Set("X-StremThru-Client-IP", c.opts.ClientIP)
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
			if res.StatusCode < 200 || res.StatusCode > 299 {
				if kindErr := errorFromBody(resBody); debrid.KindOf(kindErr) != debrid.ErrUnknown {
					return retry.Unrecoverable(kindErr)
				}
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
