package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/addon"
	"github.com/aiostreams/aiostreams/pkg/aggregator"
	"github.com/aiostreams/aiostreams/pkg/cache"
	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/debrid/stremthru"
	"github.com/aiostreams/aiostreams/pkg/debrid/torbox"
	"github.com/aiostreams/aiostreams/pkg/library"
	"github.com/aiostreams/aiostreams/pkg/metadata"
	"github.com/aiostreams/aiostreams/pkg/playback"
	"github.com/aiostreams/aiostreams/pkg/processor"
)

// userData is the per-user configuration that's carried base64-encoded in
// the URL path of every request.
type userData struct {
	Services []serviceConfig `json:"services"`
	Addons   []presetConfig  `json:"addons"`

	Filters         filterConfig `json:"filters"`
	Sort            []string     `json:"sort"`
	SortExpressions []string     `json:"sortExpressions"`
	Dedupe          string       `json:"dedupe"`

	// AutoPlay defaults to true when absent.
	AutoPlay            *bool `json:"autoPlay"`
	CacheAndPlay        bool  `json:"cacheAndPlay"`
	AutoRemoveDownloads bool  `json:"autoRemoveDownloads"`
	SkipProcessing      bool  `json:"skipProcessing"`
}

type serviceConfig struct {
	// ID is "torbox" or "stremthru".
	ID    string `json:"id"`
	Token string `json:"token"`
	// StoreName selects the underlying store for StremThru.
	StoreName string `json:"storeName,omitempty"`
	// URL overrides the configured StremThru base URL.
	URL string `json:"url,omitempty"`
}

type presetConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	// Timeout is a Go duration string, for example "15s".
	Timeout              string   `json:"timeout,omitempty"`
	Services             []string `json:"services,omitempty"`
	UseMultipleInstances bool     `json:"useMultipleInstances,omitempty"`
	IncludeP2P           bool     `json:"includeP2P,omitempty"`
	MediaTypes           []string `json:"mediaTypes,omitempty"`
}

type listConfig struct {
	Required []string `json:"required,omitempty"`
	Excluded []string `json:"excluded,omitempty"`
	Included []string `json:"included,omitempty"`
}

type sizeRangeConfig struct {
	// Min and Max are bytes. Zero bounds are open.
	Min int64 `json:"min,omitempty"`
	Max int64 `json:"max,omitempty"`
}

type regexConfig struct {
	Include  []string `json:"include,omitempty"`
	Exclude  []string `json:"exclude,omitempty"`
	Required []string `json:"required,omitempty"`
	Ranked   []string `json:"ranked,omitempty"`
}

type filterConfig struct {
	Resolutions   listConfig `json:"resolutions,omitempty"`
	Qualities     listConfig `json:"qualities,omitempty"`
	Encodes       listConfig `json:"encodes,omitempty"`
	StreamTypes   listConfig `json:"streamTypes,omitempty"`
	VisualTags    listConfig `json:"visualTags,omitempty"`
	AudioTags     listConfig `json:"audioTags,omitempty"`
	AudioChannels listConfig `json:"audioChannels,omitempty"`
	Languages     listConfig `json:"languages,omitempty"`

	// SizeRanges are keyed by resolution; the "" entry is the fallback.
	SizeRanges map[string]sizeRangeConfig `json:"sizeRanges,omitempty"`
	MinSeeders int                        `json:"minSeeders,omitempty"`
	MaxAgeDays int                        `json:"maxAgeDays,omitempty"`

	Regex regexConfig `json:"regex,omitempty"`

	// PreferredLanguages and PreferredVisualTags don't filter; they feed
	// the language and visualTag sort keys.
	PreferredLanguages  []string `json:"preferredLanguages,omitempty"`
	PreferredVisualTags []string `json:"preferredVisualTags,omitempty"`
}

func decodeUserData(data string, logger *zap.Logger) (userData, error) {
	logger.Debug("Decoding user data")

	// If there's padding, we remove it, so that the decoding works with both:
	data = strings.TrimRight(data, "=")
	userDataDecoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
	if err != nil {
		// We use WARN instead of ERROR because it's most likely an *encoding* error on the client side
		logger.Warn("Couldn't decode user data", zap.Error(err))
		return userData{}, err
	}

	// Unknown option names are config mistakes and get rejected instead
	// of being silently dropped.
	dec := json.NewDecoder(bytes.NewReader(userDataDecoded))
	dec.DisallowUnknownFields()
	ud := userData{}
	if err := dec.Decode(&ud); err != nil {
		logger.Warn("Couldn't unmarshal user data", zap.Error(err))
		return userData{}, err
	}
	if err := ud.validate(); err != nil {
		logger.Warn("Invalid user data", zap.Error(err))
		return userData{}, err
	}
	return ud, nil
}

var knownSortKeys = map[string]processor.SortKey{
	"cached":               processor.KeyCached,
	"library":              processor.KeyLibrary,
	"service":              processor.KeyService,
	"resolution":           processor.KeyResolution,
	"size":                 processor.KeySize,
	"quality":              processor.KeyQuality,
	"seeders":              processor.KeySeeders,
	"language":             processor.KeyLanguage,
	"visualTag":            processor.KeyVisualTag,
	"audioChannel":         processor.KeyAudioChannel,
	"regexRank":            processor.KeyRegexRank,
	"streamExpressionRank": processor.KeyExpressionRank,
}

func (ud userData) validate() error {
	if len(ud.Services) == 0 && len(ud.Addons) == 0 {
		return errors.New("user data configures neither a debrid service nor an addon")
	}
	for _, sc := range ud.Services {
		switch strings.ToLower(sc.ID) {
		case "torbox", "stremthru":
		default:
			return fmt.Errorf("unknown debrid service %q", sc.ID)
		}
		if sc.Token == "" {
			return fmt.Errorf("service %v has no token", sc.ID)
		}
	}
	for _, pc := range ud.Addons {
		p, err := pc.preset()
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	switch processor.DedupeMode(ud.Dedupe) {
	case "", processor.DedupeConservative, processor.DedupeAggressive, processor.DedupeKeepAll:
	default:
		return fmt.Errorf("unknown dedupe mode %q", ud.Dedupe)
	}
	for _, s := range ud.Sort {
		key, _, _ := strings.Cut(s, ":")
		if _, ok := knownSortKeys[key]; !ok {
			return fmt.Errorf("unknown sort key %q", key)
		}
	}
	return nil
}

func (pc presetConfig) preset() (addon.Preset, error) {
	p := addon.Preset{
		Name:                 pc.Name,
		URL:                  strings.TrimSuffix(pc.URL, "/"),
		Services:             pc.Services,
		UseMultipleInstances: pc.UseMultipleInstances,
		IncludeP2P:           pc.IncludeP2P,
		MediaTypes:           pc.MediaTypes,
	}
	if pc.Timeout != "" {
		timeout, err := time.ParseDuration(pc.Timeout)
		if err != nil {
			return addon.Preset{}, fmt.Errorf("Couldn't parse timeout of addon preset %v: %v", pc.Name, err)
		}
		p.Timeout = timeout
	}
	return p, nil
}

func (lc listConfig) filter() processor.ListFilter {
	return processor.ListFilter{
		Required: lc.Required,
		Excluded: lc.Excluded,
		Included: lc.Included,
	}
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	var res []*regexp.Regexp
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("Couldn't compile filter regex %q: %v", pattern, err)
		}
		res = append(res, re)
	}
	return res, nil
}

// processorOptions translates the user's JSON configuration into the
// processor's compiled form. Regexes and sort expressions are compiled
// here once per request instead of once per stream.
func (ud userData) processorOptions(serviceIDs []string) (processor.Options, error) {
	fc := ud.Filters
	filters := processor.Filters{
		Resolution:   fc.Resolutions.filter(),
		Quality:      fc.Qualities.filter(),
		Encode:       fc.Encodes.filter(),
		StreamType:   fc.StreamTypes.filter(),
		VisualTag:    fc.VisualTags.filter(),
		AudioTag:     fc.AudioTags.filter(),
		AudioChannel: fc.AudioChannels.filter(),
		Language:     fc.Languages.filter(),
		MinSeeders:   fc.MinSeeders,
		MaxAge:       time.Duration(fc.MaxAgeDays) * 24 * time.Hour,
	}
	if len(fc.SizeRanges) > 0 {
		filters.SizeRanges = make(map[string]processor.SizeRange, len(fc.SizeRanges))
		for res, r := range fc.SizeRanges {
			filters.SizeRanges[res] = processor.SizeRange{Min: r.Min, Max: r.Max}
		}
	}

	var err error
	if filters.Regex.Include, err = compileAll(fc.Regex.Include); err != nil {
		return processor.Options{}, err
	}
	if filters.Regex.Exclude, err = compileAll(fc.Regex.Exclude); err != nil {
		return processor.Options{}, err
	}
	if filters.Regex.Required, err = compileAll(fc.Regex.Required); err != nil {
		return processor.Options{}, err
	}
	if filters.Regex.Ranked, err = compileAll(fc.Regex.Ranked); err != nil {
		return processor.Options{}, err
	}

	sortOpts := processor.SortOptions{
		ServiceOrder:   serviceIDs,
		LanguageOrder:  fc.PreferredLanguages,
		VisualTagOrder: fc.PreferredVisualTags,
		Ranked:         filters.Regex.Ranked,
	}
	for _, s := range ud.Sort {
		key, dir, _ := strings.Cut(s, ":")
		sortOpts.Criteria = append(sortOpts.Criteria, processor.SortCriterion{
			Key:        knownSortKeys[key],
			Descending: dir != "asc",
		})
	}
	for _, code := range ud.SortExpressions {
		program, err := processor.CompileExpression(code)
		if err != nil {
			return processor.Options{}, fmt.Errorf("Couldn't compile sort expression %q: %v", code, err)
		}
		sortOpts.Expressions = append(sortOpts.Expressions, program)
	}

	autoPlay := true
	if ud.AutoPlay != nil {
		autoPlay = *ud.AutoPlay
	}
	return processor.Options{
		Filters:        filters,
		Sort:           sortOpts,
		Dedupe:         processor.DedupeMode(ud.Dedupe),
		AutoPlay:       autoPlay,
		SkipProcessing: ud.SkipProcessing,
	}, nil
}

// digest identifies a user's credential set. It namespaces the per-user
// caches so users sharing a deployment never see each other's data.
func (ud userData) digest() string {
	h := sha256.New()
	for _, sc := range ud.Services {
		h.Write([]byte(sc.ID + "|" + sc.Token + "|" + sc.StoreName + "|" + sc.URL + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// userResources is everything request handling needs for one user,
// assembled from the decoded user data.
type userResources struct {
	ud         userData
	digest     string
	services   map[string]debrid.Service
	serviceIDs []string
	checkers   map[string]processor.HashChecker
	libraries  []*library.Service
	aggregator *aggregator.Aggregator
	procOpts   processor.Options
	resolver   *playback.Resolver
}

func createUserResources(ud userData, config config, stores *stores, metaClient *metadata.Client, clientIP string, logger *zap.Logger) (*userResources, error) {
	u := &userResources{
		ud:       ud,
		digest:   ud.digest(),
		services: map[string]debrid.Service{},
		checkers: map[string]processor.HashChecker{},
	}

	for _, sc := range ud.Services {
		var svc debrid.Service
		var err error
		switch strings.ToLower(sc.ID) {
		case "torbox":
			opts := torbox.DefaultClientOpts
			opts.BaseURL = config.BaseURLtorbox
			opts.Token = sc.Token
			opts.ClientIP = clientIP
			opts.CacheAge = config.CacheAgeAvailability
			svc, err = torbox.NewClient(opts, stores.tokens, stores.availability, logger)
		case "stremthru":
			baseURL := sc.URL
			if baseURL == "" {
				baseURL = config.BaseURLstremthru
			}
			opts := stremthru.NewClientOpts(baseURL, sc.Token, clientIP, sc.StoreName, stremthru.DefaultClientOpts.Timeout, config.CacheAgeAvailability)
			svc, err = stremthru.NewClient(opts, stores.tokens, stores.availability, logger)
		default:
			err = fmt.Errorf("unknown debrid service %q", sc.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("Couldn't create %v client: %v", sc.ID, err)
		}
		u.services[svc.ID()] = svc
		u.serviceIDs = append(u.serviceIDs, svc.ID())
		if hc, ok := svc.(processor.HashChecker); ok {
			u.checkers[svc.ID()] = hc
		}

		libraryCache := cache.NewPrefixed(stores.library, u.digest)
		u.libraries = append(u.libraries, library.NewService(svc, libraryCache, stores.locks, library.Options{
			RefreshInterval: config.LibraryRefreshInterval,
			StaleThreshold:  config.LibraryStaleThreshold,
			PageSize:        config.LibraryPageSize,
		}, logger))
	}

	addonOpts := addon.ClientOptions{
		Timeout:   config.AddonTimeout,
		UserAgent: "aiostreams/" + version,
		Logger:    logger,
	}
	var addons []*addon.Client
	for _, pc := range ud.Addons {
		p, err := pc.preset()
		if err != nil {
			return nil, err
		}
		clients, err := addon.Expand(p, u.serviceIDs, addonOpts)
		if err != nil {
			return nil, err
		}
		addons = append(addons, clients...)
	}

	procOpts, err := ud.processorOptions(u.serviceIDs)
	if err != nil {
		return nil, err
	}
	u.procOpts = procOpts

	u.aggregator = aggregator.New(metaClient, addons, u.libraries, logger)
	u.resolver = playback.NewResolver(u.services, u.digest, stores.links, stores.locks, playback.Options{
		LinkValidity:            config.LinkValidity,
		PollInterval:            config.PollInterval,
		PollAttempts:            config.PollAttempts,
		AllowTorrentDownloadURL: config.UseTorrentDownloadURL,
		AutoRemove:              ud.AutoRemoveDownloads,
	}, logger)
	return u, nil
}

// ownedHashes collects the content hashes each service's library holds,
// so the availability step can flag results the user already owns.
// Snapshots are cached, so this is cheap after the first request; a
// failing library just contributes nothing.
func ownedHashes(ctx context.Context, libraries []*library.Service) map[string]map[string]bool {
	owned := map[string]map[string]bool{}
	for _, lib := range libraries {
		hashes, err := lib.OwnedHashes(ctx)
		if err != nil || len(hashes) == 0 {
			continue
		}
		owned[lib.ID()] = hashes
	}
	return owned
}

// libraryByID returns the user's library service with the given ID.
func (u *userResources) libraryByID(serviceID string) (*library.Service, bool) {
	for _, lib := range u.libraries {
		if lib.ID() == serviceID {
			return lib, true
		}
	}
	return nil, false
}
