package metadata

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/cache"
	"github.com/aiostreams/aiostreams/pkg/idparser"
)

// ClientOptions configure the metadata client.
type ClientOptions struct {
	// CinemetaURL is the base URL of the Cinemeta addon.
	CinemetaURL string
	// KitsuURL is the base URL of the Kitsu anime addon.
	KitsuURL string
	// TMDBURL is the base URL of the TMDB API.
	TMDBURL string
	// TMDBkey is the TMDB API key. Without it, tmdb: and tvdb: IDs can't be resolved.
	TMDBkey string
	// Timeout is the timeout for HTTP requests.
	Timeout time.Duration
	// CacheAge is the maximum age of cached metadata.
	CacheAge time.Duration
}

func NewClientOpts(cinemetaURL, kitsuURL, tmdbURL, tmdbKey string, timeout, cacheAge time.Duration) ClientOptions {
	return ClientOptions{
		CinemetaURL: cinemetaURL,
		KitsuURL:    kitsuURL,
		TMDBURL:     tmdbURL,
		TMDBkey:     tmdbKey,
		Timeout:     timeout,
		CacheAge:    cacheAge,
	}
}

var DefaultClientOpts = ClientOptions{
	CinemetaURL: "https://v3-cinemeta.strem.io",
	KitsuURL:    "https://anime-kitsu.strem.fun",
	TMDBURL:     "https://api.themoviedb.org/3",
	Timeout:     5 * time.Second,
	CacheAge:    30 * 24 * time.Hour,
}

// Client fetches and caches metadata for external IDs.
type Client struct {
	opts       ClientOptions
	httpClient *http.Client
	cache      cache.Cache
	logger     *zap.Logger
}

func NewClient(opts ClientOptions, metaCache cache.Cache, logger *zap.Logger) *Client {
	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		cache:  metaCache,
		logger: logger,
	}
}

// Get resolves the metadata for a parsed ID. Results are cached; a cached
// entry younger than CacheAge is returned without a remote call.
func (c *Client) Get(ctx context.Context, id idparser.ParsedID) (Metadata, error) {
	zapFieldID := zap.String("id", id.String())

	cacheKey := id.Namespace + ":" + id.Value + ":" + string(id.Kind)
	var cached Metadata
	meta, found, err := cache.GobGet(ctx, c.cache, cacheKey, &cached)
	if err != nil {
		c.logger.Error("Couldn't decode cached metadata", zap.Error(err), zapFieldID)
	} else if found && meta.Age() < c.opts.CacheAge {
		c.logger.Debug("Hit metadata cache", zapFieldID)
		return cached, nil
	}

	var result Metadata
	switch id.Namespace {
	case "imdb":
		result, err = c.fromCinemeta(ctx, id)
	case "kitsu", "anilist", "mal":
		result, err = c.fromKitsu(ctx, id)
	case "tmdb", "tvdb":
		result, err = c.fromTMDB(ctx, id)
	default:
		return Metadata{}, fmt.Errorf("Couldn't resolve metadata: unsupported namespace %q", id.Namespace)
	}
	if err != nil {
		return Metadata{}, err
	}

	if err := cache.GobSet(ctx, c.cache, cacheKey, result, c.opts.CacheAge); err != nil {
		c.logger.Error("Couldn't cache metadata", zap.Error(err), zapFieldID)
	}
	return result, nil
}

func (c *Client) fromCinemeta(ctx context.Context, id idparser.ParsedID) (Metadata, error) {
	mediaType := "movie"
	if id.IsSeries() {
		mediaType = "series"
	}
	reqURL := c.opts.CinemetaURL + "/meta/" + mediaType + "/" + id.Value + ".json"
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return Metadata{}, err
	}

	name := gjson.GetBytes(body, "meta.name").String()
	if name == "" {
		return Metadata{}, fmt.Errorf("Couldn't find name in Cinemeta response for %v", id.Value)
	}
	m := Metadata{
		Titles: []string{name},
		Year:   int(gjson.GetBytes(body, "meta.year").Int()),
		Kind:   id.Kind,
	}
	if m.Year == 0 {
		// "year" can be a string or a range like "2008-2013"
		yearStr := gjson.GetBytes(body, "meta.year").String()
		fmt.Sscanf(yearStr, "%d", &m.Year)
	}
	for _, alias := range gjson.GetBytes(body, "meta.aliases").Array() {
		if alias.String() != "" {
			m.Titles = appendUniqueTitle(m.Titles, alias.String())
		}
	}
	m.Seasons = seasonsFromVideos(gjson.GetBytes(body, "meta.videos"))
	return m, nil
}

func (c *Client) fromKitsu(ctx context.Context, id idparser.ParsedID) (Metadata, error) {
	reqURL := c.opts.KitsuURL + "/meta/anime/" + url.PathEscape(id.Namespace+":"+id.Value) + ".json"
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return Metadata{}, err
	}

	name := gjson.GetBytes(body, "meta.name").String()
	if name == "" {
		return Metadata{}, fmt.Errorf("Couldn't find name in Kitsu response for %v", id.Value)
	}
	m := Metadata{
		Titles:           []string{name},
		Year:             int(gjson.GetBytes(body, "meta.year").Int()),
		Kind:             idparser.KindAnime,
		OriginalLanguage: "ja",
	}
	// Kitsu lists both romanized and english titles as aliases
	for _, alias := range gjson.GetBytes(body, "meta.aliases").Array() {
		if alias.String() != "" {
			m.Titles = appendUniqueTitle(m.Titles, alias.String())
		}
	}
	m.Seasons = seasonsFromVideos(gjson.GetBytes(body, "meta.videos"))
	return m, nil
}

func (c *Client) fromTMDB(ctx context.Context, id idparser.ParsedID) (Metadata, error) {
	if c.opts.TMDBkey == "" {
		return Metadata{}, fmt.Errorf("Couldn't resolve %v ID: no TMDB API key configured", id.Namespace)
	}

	tmdbID := id.Value
	mediaType := "movie"
	if id.IsSeries() {
		mediaType = "tv"
	}
	if id.Namespace == "tvdb" {
		// TVDB IDs need one /find hop first
		findURL := c.opts.TMDBURL + "/find/" + id.Value + "?external_source=tvdb_id&api_key=" + c.opts.TMDBkey
		body, err := c.get(ctx, findURL)
		if err != nil {
			return Metadata{}, err
		}
		tmdbID = gjson.GetBytes(body, "tv_results.0.id").String()
		if tmdbID == "" {
			tmdbID = gjson.GetBytes(body, "movie_results.0.id").String()
			mediaType = "movie"
		}
		if tmdbID == "" {
			return Metadata{}, fmt.Errorf("Couldn't find TMDB entry for TVDB ID %v", id.Value)
		}
	}

	reqURL := c.opts.TMDBURL + "/" + mediaType + "/" + tmdbID + "?append_to_response=alternative_titles&api_key=" + c.opts.TMDBkey
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return Metadata{}, err
	}

	var m Metadata
	m.Kind = id.Kind
	if mediaType == "tv" {
		m.Titles = []string{gjson.GetBytes(body, "name").String()}
		if date := gjson.GetBytes(body, "first_air_date").String(); len(date) >= 4 {
			fmt.Sscanf(date[:4], "%d", &m.Year)
		}
		if orig := gjson.GetBytes(body, "original_name").String(); orig != "" {
			m.Titles = appendUniqueTitle(m.Titles, orig)
		}
		for _, season := range gjson.GetBytes(body, "seasons").Array() {
			num := int(season.Get("season_number").Int())
			count := int(season.Get("episode_count").Int())
			if num > 0 && count > 0 {
				m.Seasons = append(m.Seasons, SeasonInfo{Number: num, EpisodeCount: count})
			}
		}
		for _, alt := range gjson.GetBytes(body, "alternative_titles.results").Array() {
			m.Titles = appendUniqueTitle(m.Titles, alt.Get("title").String())
		}
	} else {
		m.Titles = []string{gjson.GetBytes(body, "title").String()}
		if date := gjson.GetBytes(body, "release_date").String(); len(date) >= 4 {
			fmt.Sscanf(date[:4], "%d", &m.Year)
		}
		if orig := gjson.GetBytes(body, "original_title").String(); orig != "" {
			m.Titles = appendUniqueTitle(m.Titles, orig)
		}
		for _, alt := range gjson.GetBytes(body, "alternative_titles.titles").Array() {
			m.Titles = appendUniqueTitle(m.Titles, alt.Get("title").String())
		}
	}
	m.OriginalLanguage = gjson.GetBytes(body, "original_language").String()
	if len(m.Titles) == 0 || m.Titles[0] == "" {
		return Metadata{}, fmt.Errorf("Couldn't find title in TMDB response for %v", tmdbID)
	}
	return m, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create request: %v", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Couldn't GET %v: %v", reqURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Bad GET response: %v", res.StatusCode)
	}
	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("Couldn't read response body: %v", err)
	}
	return body, nil
}

// seasonsFromVideos derives per-season episode counts from an addon's
// videos array.
func seasonsFromVideos(videos gjson.Result) []SeasonInfo {
	counts := map[int]int{}
	maxSeason := 0
	for _, v := range videos.Array() {
		season := int(v.Get("season").Int())
		if season <= 0 {
			continue
		}
		counts[season]++
		if season > maxSeason {
			maxSeason = season
		}
	}
	var seasons []SeasonInfo
	for n := 1; n <= maxSeason; n++ {
		if counts[n] > 0 {
			seasons = append(seasons, SeasonInfo{Number: n, EpisodeCount: counts[n]})
		}
	}
	return seasons
}

func appendUniqueTitle(titles []string, title string) []string {
	if title == "" {
		return titles
	}
	for _, t := range titles {
		if t == title {
			return titles
		}
	}
	return append(titles, title)
}
