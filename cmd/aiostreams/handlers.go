package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/idparser"
	"github.com/aiostreams/aiostreams/pkg/library"
	"github.com/aiostreams/aiostreams/pkg/metadata"
	"github.com/aiostreams/aiostreams/pkg/playback"
	"github.com/aiostreams/aiostreams/pkg/processor"
	"github.com/aiostreams/aiostreams/pkg/stream"
	"github.com/aiostreams/aiostreams/pkg/stremio"
	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

const libraryCatalogPrefix = idparser.LibraryPrefix + "."

func createHealthHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendString("OK")
	}
}

func createStatusHandler(start time.Time, stores *stores) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := fiber.Map{
			"version":       version,
			"uptime":        time.Since(start).Truncate(time.Second).String(),
			"numGoroutines": runtime.NumGoroutine(),
		}
		if stores.db != nil {
			lsm, vlog := stores.db.Size()
			status["storageBytes"] = lsm + vlog
		}
		return c.JSON(status)
	}
}

// createManifestHandler assembles the manifest for one user: the stream
// resource for regular IDs plus one library catalog per configured debrid
// service.
func createManifestHandler(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Locals("user").(*userResources)

		manifest := stremio.Manifest{
			ID:          "com.aiostreams.addon",
			Name:        "AIOStreams",
			Description: "Aggregates streams from your configured addons, checks their availability on your debrid services and serves your debrid library as a catalog.",
			Version:     version,
			ResourceItems: []stremio.ResourceItem{
				{Name: "stream", Types: []string{"movie", "series"}},
			},
			Types:      []string{"movie", "series"},
			Catalogs:   []stremio.CatalogItem{},
			IDprefixes: []string{"tt", "kitsu", "tmdb", "tvdb", "mal", "anilist"},
			BehaviorHints: stremio.ManifestBehaviorHints{
				Configurable: true,
			},
		}

		if len(user.libraries) > 0 {
			manifest.Types = append(manifest.Types, "other")
			manifest.ResourceItems = append(manifest.ResourceItems,
				stremio.ResourceItem{Name: "catalog", Types: []string{"other"}},
				stremio.ResourceItem{Name: "meta", Types: []string{"other"}, IDprefixes: []string{libraryCatalogPrefix}},
			)
			for _, lib := range user.libraries {
				manifest.Catalogs = append(manifest.Catalogs, stremio.CatalogItem{
					Type: "other",
					ID:   libraryCatalogPrefix + lib.ID(),
					Name: strings.Title(lib.ID()) + " Library",
					Extra: []stremio.ExtraItem{
						{Name: "search"},
						{Name: "genre", Options: []string{library.GenreOldestFirst, library.GenreReversed}},
						{Name: "skip"},
					},
				})
			}
		}
		return c.JSON(manifest)
	}
}

func createStreamHandler(config config, metaClient *metadata.Client, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Locals("user").(*userResources)
		udString := c.Locals("userData").(string)
		mediaType := c.Params("type")
		id, err := url.PathUnescape(strings.TrimSuffix(c.Params("id"), ".json"))
		if err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		rCtx := c.Context()
		zapFieldID := zap.String("id", id)

		// Library video IDs play directly from the snapshot, no
		// aggregation involved.
		if idparser.IsLibraryID(id) {
			libID, err := idparser.ParseLibraryID(id)
			if err != nil {
				return c.SendStatus(fiber.StatusBadRequest)
			}
			lib, ok := user.libraryByID(libID.ServiceID)
			if !ok {
				return c.SendStatus(fiber.StatusNotFound)
			}
			streams, err := lib.Streams(rCtx, libID)
			if err != nil {
				logger.Warn("Couldn't build library streams", zap.Error(err), zapFieldID)
				return c.SendStatus(fiber.StatusNotFound)
			}
			items := make([]stremio.StreamItem, 0, len(streams))
			for _, st := range streams {
				items = append(items, streamItem(st, config.BaseURL, udString, nil, titleparser.EpisodeRequest{}))
			}
			return c.JSON(fiber.Map{"streams": items})
		}

		kind := idparser.KindMovie
		if mediaType == "series" {
			kind = idparser.KindSeries
		}
		parsedID, err := idparser.Parse(id, kind)
		if err != nil {
			logger.Info("Couldn't parse ID", zap.Error(err), zapFieldID)
			return c.SendStatus(fiber.StatusBadRequest)
		}

		// The metadata is needed twice: the titles gate the processor's
		// title filter and the episode numbers travel with each playback
		// handle. A failure only loses those extras.
		var titles []string
		var episode titleparser.EpisodeRequest
		if md, err := metaClient.Get(rCtx, parsedID); err == nil {
			titles = md.Titles
			numbers := md.EpisodeRequest(parsedID)
			episode = titleparser.EpisodeRequest{
				Season:                  numbers.Season,
				Episode:                 numbers.Episode,
				AbsoluteEpisode:         numbers.AbsoluteEpisode,
				RelativeAbsoluteEpisode: numbers.RelativeEpisode,
			}
		} else {
			logger.Warn("Couldn't fetch metadata", zap.Error(err), zapFieldID)
		}

		streams, addonErrs, err := user.aggregator.Aggregate(rCtx, mediaType, parsedID)
		if err != nil {
			logger.Error("Couldn't aggregate streams", zap.Error(err), zapFieldID)
			return c.SendStatus(fiber.StatusInternalServerError)
		}

		procOpts := user.procOpts
		procOpts.Filters.Titles = titles
		procOpts.Owned = ownedHashes(rCtx, user.libraries)
		streams = processor.New(user.checkers, procOpts, logger).Process(rCtx, streams)

		items := make([]stremio.StreamItem, 0, len(streams)+len(addonErrs))
		for _, st := range streams {
			items = append(items, streamItem(st, config.BaseURL, udString, titles, episode))
		}
		// Failed addons show up as non-playable entries so the user sees
		// why results are missing.
		for _, addonErr := range addonErrs {
			items = append(items, stremio.StreamItem{
				Name:        "❌ " + addonErr.Title,
				Description: addonErr.Description,
				ExternalURL: config.BaseURL,
			})
		}
		return c.JSON(fiber.Map{"streams": items})
	}
}

// streamItem converts one pipeline result into its wire form. Torrent,
// usenet and library entries get a resolve URL carrying an opaque handle;
// http entries pass their URL through; p2p entries carry the info hash for
// the player's own torrent engine.
func streamItem(st stream.Stream, baseURL, udString string, titles []string, episode titleparser.EpisodeRequest) stremio.StreamItem {
	item := stremio.StreamItem{
		Name:  displayName(st),
		Title: displayTitle(st),
	}

	switch st.Type {
	case stream.TypeHTTP:
		item.URL = st.URL
	case stream.TypeP2P:
		item.InfoHash = st.InfoHash
		if st.FileIndex >= 0 {
			item.FileIndex = st.FileIndex
		}
	default:
		info := playback.Info{
			Type:          st.Type,
			Hash:          st.InfoHash,
			NZB:           st.NZB,
			DownloadURL:   st.URL,
			ServiceID:     st.Service.ID,
			ServiceItemID: st.Service.ItemID,
			FileIndex:     st.FileIndex,
			Filename:      st.Filename,
			Titles:        titles,
			Episode:       episode,
			Private:       st.Library,
		}
		item.URL = baseURL + "/" + udString + "/resolve/" + encodeResolveHandle(info)
	}

	if st.BingeGroup != "" || st.Filename != "" || st.Size > 0 {
		item.BehaviorHints = &stremio.StreamBehaviorHints{
			BingeGroup: st.BingeGroup,
			Filename:   st.Filename,
			VideoSize:  st.Size,
		}
	}
	return item
}

func displayName(st stream.Stream) string {
	name := st.Addon
	if st.Library {
		name = "Library | " + st.Service.ID
	}
	if st.Service.Cached || st.Confirmed {
		name = "⚡ " + name
	}
	if st.Parsed.Resolution != "" {
		name += "\n" + st.Parsed.Resolution
	}
	return name
}

func displayTitle(st stream.Stream) string {
	first := st.Filename
	if first == "" {
		first = st.Title
		if i := strings.IndexByte(first, '\n'); i >= 0 {
			first = first[:i]
		}
	}

	var details []string
	if st.Size > 0 {
		details = append(details, formatSize(st.Size))
	}
	if st.Seeders > 0 {
		details = append(details, fmt.Sprintf("👤 %d", st.Seeders))
	}
	if len(st.Parsed.Languages) > 0 {
		details = append(details, strings.Join(st.Parsed.Languages, "/"))
	}
	if len(details) == 0 {
		return first
	}
	return first + "\n" + strings.Join(details, " ")
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(size)/float64(div), "KMGT"[exp])
}

func encodeResolveHandle(info playback.Info) string {
	// Info marshals without error: it's all strings and ints
	data, _ := json.Marshal(info)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeResolveHandle(handle string) (playback.Info, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(handle, "="))
	if err != nil {
		return playback.Info{}, err
	}
	var info playback.Info
	if err := json.Unmarshal(data, &info); err != nil {
		return playback.Info{}, err
	}
	return info, nil
}

// createResolveHandler dereferences a playback handle into a debrid link
// and redirects the player there.
func createResolveHandler(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Locals("user").(*userResources)
		info, err := decodeResolveHandle(c.Params("handle"))
		if err != nil {
			logger.Warn("Couldn't decode resolve handle", zap.Error(err))
			return c.SendStatus(fiber.StatusBadRequest)
		}

		streamURL, err := user.resolver.Resolve(c.Context(), info, user.ud.CacheAndPlay)
		if err != nil {
			if debrid.IsKind(err, debrid.ErrNotFound) {
				// Not ready yet; the user can retry (or enable cache-and-play)
				return c.SendStatus(fiber.StatusNotFound)
			}
			logger.Error("Couldn't resolve playback URL", zap.Error(err), zap.String("debridService", info.ServiceID))
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.Redirect(streamURL, fiber.StatusFound)
	}
}

func createCatalogHandler(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Locals("user").(*userResources)
		catalogID, err := url.PathUnescape(strings.TrimSuffix(c.Params("id"), ".json"))
		if err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		if !strings.HasPrefix(catalogID, libraryCatalogPrefix) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		lib, ok := user.libraryByID(strings.TrimPrefix(catalogID, libraryCatalogPrefix))
		if !ok {
			return c.SendStatus(fiber.StatusNotFound)
		}

		req := library.CatalogRequest{}
		if extraParam := c.Params("extra"); extraParam != "" {
			extraParam, err = url.PathUnescape(strings.TrimSuffix(extraParam, ".json"))
			if err != nil {
				return c.SendStatus(fiber.StatusBadRequest)
			}
			extra, err := url.ParseQuery(extraParam)
			if err != nil {
				return c.SendStatus(fiber.StatusBadRequest)
			}
			req.Search = extra.Get("search")
			req.Genre = extra.Get("genre")
			if skip := extra.Get("skip"); skip != "" {
				if req.Skip, err = strconv.Atoi(skip); err != nil {
					return c.SendStatus(fiber.StatusBadRequest)
				}
			}
		}

		metas, err := lib.Catalog(c.Context(), req)
		if err != nil {
			logger.Error("Couldn't build library catalog", zap.Error(err), zap.String("debridService", lib.ID()))
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		if metas == nil {
			metas = []stremio.MetaPreviewItem{}
		}
		return c.JSON(fiber.Map{"metas": metas})
	}
}

func createMetaHandler(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Locals("user").(*userResources)
		id, err := url.PathUnescape(strings.TrimSuffix(c.Params("id"), ".json"))
		if err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		if !idparser.IsLibraryID(id) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		libID, err := idparser.ParseLibraryID(id)
		if err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		lib, ok := user.libraryByID(libID.ServiceID)
		if !ok {
			return c.SendStatus(fiber.StatusNotFound)
		}

		meta, err := lib.Meta(c.Context(), libID)
		if err != nil {
			if debrid.IsKind(err, debrid.ErrNotFound) {
				return c.SendStatus(fiber.StatusNotFound)
			}
			logger.Error("Couldn't build library meta", zap.Error(err), zap.String("id", id))
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(fiber.Map{"meta": meta})
	}
}

// createLibraryRefreshHandler invalidates the user's library snapshots and
// fetches new ones, for when the user just added something and doesn't
// want to wait for the regular refresh.
func createLibraryRefreshHandler(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Locals("user").(*userResources)
		var refreshErr error
		for _, lib := range user.libraries {
			if _, err := lib.Refresh(c.Context()); err != nil {
				refreshErr = multierr.Append(refreshErr, fmt.Errorf("Couldn't refresh %v library: %w", lib.ID(), err))
			}
		}
		if refreshErr != nil {
			logger.Error("Library refresh failed", zap.Error(refreshErr))
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
