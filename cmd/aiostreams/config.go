package main

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type config struct {
	BindAddr               string        `json:"bindAddr"`
	Port                   int           `json:"port"`
	BaseURL                string        `json:"baseURL"`
	StoragePath            string        `json:"storagePath"`
	RedisAddr              string        `json:"redisAddr"`
	RedisCreds             string        `json:"redisCreds"`
	LogLevel               string        `json:"logLevel"`
	LogEncoding            string        `json:"logEncoding"`
	AddonTimeout           time.Duration `json:"addonTimeout"`
	CacheAgeAvailability   time.Duration `json:"cacheAgeAvailability"`
	CacheAgeMetadata       time.Duration `json:"cacheAgeMetadata"`
	LibraryRefreshInterval time.Duration `json:"libraryRefreshInterval"`
	LibraryStaleThreshold  time.Duration `json:"libraryStaleThreshold"`
	LibraryPageSize        int           `json:"libraryPageSize"`
	LinkValidity           time.Duration `json:"linkValidity"`
	PollInterval           time.Duration `json:"pollInterval"`
	PollAttempts           int           `json:"pollAttempts"`
	UseTorrentDownloadURL  bool          `json:"useTorrentDownloadURL"`
	ForwardOriginIP        bool          `json:"forwardOriginIP"`
	BaseURLtorbox          string        `json:"baseURLtorbox"`
	BaseURLstremthru       string        `json:"baseURLstremthru"`
	BaseURLcinemeta        string        `json:"baseURLcinemeta"`
	BaseURLkitsu           string        `json:"baseURLkitsu"`
	BaseURLtmdb            string        `json:"baseURLtmdb"`
	TMDBkey                string        `json:"tmdbKey"`
	EnvPrefix              string        `json:"envPrefix"`
}

func parseConfig(logger *zap.Logger) config {
	result := config{}

	// Flags
	var (
		bindAddr               = flag.String("bindAddr", "localhost", `Local interface address to bind to. "localhost" only allows access from the local host. "0.0.0.0" binds to all network interfaces.`)
		port                   = flag.Int("port", 8080, "Port to listen on")
		baseURL                = flag.String("baseURL", "http://localhost:8080", "Base URL of this service. It's used in the stream URLs that are delivered to Stremio and later resolved into debrid links.")
		storagePath            = flag.String("storagePath", "", `Path for storing the data of the persistent BadgerDB cache. An empty value will lead to 'os.UserCacheDir()+"/aiostreams/badger"'. Not used when a Redis address is configured.`)
		redisAddr              = flag.String("redisAddr", "", `Redis host and port, for example "localhost:6379". It's used for all caches and locks, which allows running multiple instances. Keep empty to use BadgerDB.`)
		redisCreds             = flag.String("redisCreds", "", `Credentials for Redis. Password for Redis version 5 and older, username and password for Redis version 6 and newer. Use the colon character (":") for separating username and password.`)
		logLevel               = flag.String("logLevel", "debug", `Log level to show only logs with the given and more severe levels. Can be "debug", "info", "warn", "error".`)
		logEncoding            = flag.String("logEncoding", "console", `Log encoding. Can be "console" or "json", where "json" makes more sense when using centralized logging solutions like ELK, Graylog or Loki.`)
		addonTimeout           = flag.Duration("addonTimeout", 10*time.Second, "Default timeout for requests to upstream addons. A preset can override it per addon. The format must be acceptable by Go's 'time.ParseDuration()'.")
		cacheAgeAvailability   = flag.Duration("cacheAgeAvailability", 24*time.Hour, "Max age of cache entries for instant availability responses from the debrid services.")
		cacheAgeMetadata       = flag.Duration("cacheAgeMetadata", 30*24*time.Hour, "Max age of cache entries for metadata from Cinemeta, Kitsu and TMDB.")
		libraryRefreshInterval = flag.Duration("libraryRefreshInterval", 10*time.Minute, "How often a user's debrid library snapshot should ideally be re-fetched.")
		libraryStaleThreshold  = flag.Duration("libraryStaleThreshold", 2*time.Minute, "Age beyond which a library snapshot is served stale while a background refresh runs.")
		libraryPageSize        = flag.Int("libraryPageSize", 100, "Page size for library catalog responses.")
		linkValidity           = flag.Duration("linkValidity", 3*time.Hour, "How long a resolved playback URL stays cached.")
		pollInterval           = flag.Duration("pollInterval", 11*time.Second, "Interval between status polls while waiting for a download during cache-and-play.")
		pollAttempts           = flag.Int("pollAttempts", 10, "Number of status polls before cache-and-play gives up.")
		useTorrentDownloadURL  = flag.Bool("useTorrentDownloadURL", false, "Add torrents via their .torrent download URL instead of a magnet when the upstream addon provides one.")
		forwardOriginIP        = flag.Bool("forwardOriginIP", false, `Forward the user's original IP address to the debrid services so generated links work for the user instead of for this server. The first "X-Forwarded-For" entry will be used.`)
		baseURLtorbox          = flag.String("baseURLtorbox", "https://api.torbox.app/v1", "Base URL for TorBox")
		baseURLstremthru       = flag.String("baseURLstremthru", "", "Base URL for StremThru. Users can override it per service in their configuration.")
		baseURLcinemeta        = flag.String("baseURLcinemeta", "https://v3-cinemeta.strem.io", "Base URL for the Cinemeta addon")
		baseURLkitsu           = flag.String("baseURLkitsu", "https://anime-kitsu.strem.fun", "Base URL for the Kitsu anime addon")
		baseURLtmdb            = flag.String("baseURLtmdb", "https://api.themoviedb.org/3", "Base URL for the TMDB API")
		tmdbKey                = flag.String("tmdbKey", "", "TMDB API key. Without it, tmdb: and tvdb: IDs can't be resolved.")
		envPrefix              = flag.String("envPrefix", "", "Prefix for environment variables")
	)

	flag.Parse()

	if *envPrefix != "" && !strings.HasSuffix(*envPrefix, "_") {
		*envPrefix += "_"
	}
	result.EnvPrefix = *envPrefix

	// Only overwrite the values by their env var counterparts that have not been set (and that *are* set via env var).
	var err error
	if !isArgSet("bindAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "BIND_ADDR"); ok {
			*bindAddr = val
		}
	}
	result.BindAddr = *bindAddr

	if !isArgSet("port") {
		if val, ok := os.LookupEnv(*envPrefix + "PORT"); ok {
			if *port, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "PORT"))
			}
		}
	}
	result.Port = *port

	if !isArgSet("baseURL") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL"); ok {
			*baseURL = val
		}
	}
	result.BaseURL = *baseURL

	if !isArgSet("storagePath") {
		if val, ok := os.LookupEnv(*envPrefix + "STORAGE_PATH"); ok {
			*storagePath = val
		}
	}
	result.StoragePath = *storagePath

	if !isArgSet("redisAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "REDIS_ADDR"); ok {
			*redisAddr = val
		}
	}
	result.RedisAddr = *redisAddr

	if !isArgSet("redisCreds") {
		if val, ok := os.LookupEnv(*envPrefix + "REDIS_CREDS"); ok {
			*redisCreds = val
		}
	}
	result.RedisCreds = *redisCreds

	if !isArgSet("logLevel") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_LEVEL"); ok {
			*logLevel = val
		}
	}
	result.LogLevel = *logLevel

	if !isArgSet("logEncoding") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_ENCODING"); ok {
			*logEncoding = val
		}
	}
	result.LogEncoding = *logEncoding

	if !isArgSet("addonTimeout") {
		if val, ok := os.LookupEnv(*envPrefix + "ADDON_TIMEOUT"); ok {
			if *addonTimeout, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "ADDON_TIMEOUT"))
			}
		}
	}
	result.AddonTimeout = *addonTimeout

	if !isArgSet("cacheAgeAvailability") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_AGE_AVAILABILITY"); ok {
			if *cacheAgeAvailability, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "CACHE_AGE_AVAILABILITY"))
			}
		}
	}
	result.CacheAgeAvailability = *cacheAgeAvailability

	if !isArgSet("cacheAgeMetadata") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_AGE_METADATA"); ok {
			if *cacheAgeMetadata, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "CACHE_AGE_METADATA"))
			}
		}
	}
	result.CacheAgeMetadata = *cacheAgeMetadata

	if !isArgSet("libraryRefreshInterval") {
		if val, ok := os.LookupEnv(*envPrefix + "LIBRARY_REFRESH_INTERVAL"); ok {
			if *libraryRefreshInterval, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "LIBRARY_REFRESH_INTERVAL"))
			}
		}
	}
	result.LibraryRefreshInterval = *libraryRefreshInterval

	if !isArgSet("libraryStaleThreshold") {
		if val, ok := os.LookupEnv(*envPrefix + "LIBRARY_STALE_THRESHOLD"); ok {
			if *libraryStaleThreshold, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "LIBRARY_STALE_THRESHOLD"))
			}
		}
	}
	result.LibraryStaleThreshold = *libraryStaleThreshold

	if !isArgSet("libraryPageSize") {
		if val, ok := os.LookupEnv(*envPrefix + "LIBRARY_PAGE_SIZE"); ok {
			if *libraryPageSize, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "LIBRARY_PAGE_SIZE"))
			}
		}
	}
	result.LibraryPageSize = *libraryPageSize

	if !isArgSet("linkValidity") {
		if val, ok := os.LookupEnv(*envPrefix + "LINK_VALIDITY"); ok {
			if *linkValidity, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "LINK_VALIDITY"))
			}
		}
	}
	result.LinkValidity = *linkValidity

	if !isArgSet("pollInterval") {
		if val, ok := os.LookupEnv(*envPrefix + "POLL_INTERVAL"); ok {
			if *pollInterval, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "POLL_INTERVAL"))
			}
		}
	}
	result.PollInterval = *pollInterval

	if !isArgSet("pollAttempts") {
		if val, ok := os.LookupEnv(*envPrefix + "POLL_ATTEMPTS"); ok {
			if *pollAttempts, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "POLL_ATTEMPTS"))
			}
		}
	}
	result.PollAttempts = *pollAttempts

	if !isArgSet("useTorrentDownloadURL") {
		if val, ok := os.LookupEnv(*envPrefix + "USE_TORRENT_DOWNLOAD_URL"); ok {
			if *useTorrentDownloadURL, err = strconv.ParseBool(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to bool", zap.Error(err), zap.String("envVar", "USE_TORRENT_DOWNLOAD_URL"))
			}
		}
	}
	result.UseTorrentDownloadURL = *useTorrentDownloadURL

	if !isArgSet("forwardOriginIP") {
		if val, ok := os.LookupEnv(*envPrefix + "FORWARD_ORIGIN_IP"); ok {
			if *forwardOriginIP, err = strconv.ParseBool(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to bool", zap.Error(err), zap.String("envVar", "FORWARD_ORIGIN_IP"))
			}
		}
	}
	result.ForwardOriginIP = *forwardOriginIP

	if !isArgSet("baseURLtorbox") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_TORBOX"); ok {
			*baseURLtorbox = val
		}
	}
	result.BaseURLtorbox = *baseURLtorbox

	if !isArgSet("baseURLstremthru") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_STREMTHRU"); ok {
			*baseURLstremthru = val
		}
	}
	result.BaseURLstremthru = *baseURLstremthru

	if !isArgSet("baseURLcinemeta") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_CINEMETA"); ok {
			*baseURLcinemeta = val
		}
	}
	result.BaseURLcinemeta = *baseURLcinemeta

	if !isArgSet("baseURLkitsu") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_KITSU"); ok {
			*baseURLkitsu = val
		}
	}
	result.BaseURLkitsu = *baseURLkitsu

	if !isArgSet("baseURLtmdb") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_TMDB"); ok {
			*baseURLtmdb = val
		}
	}
	result.BaseURLtmdb = *baseURLtmdb

	if !isArgSet("tmdbKey") {
		if val, ok := os.LookupEnv(*envPrefix + "TMDB_KEY"); ok {
			*tmdbKey = val
		}
	}
	result.TMDBkey = *tmdbKey

	return result
}

// isArgSet returns true if the argument is found in the list of arguments the binary was called with.
// This is *not* the same as flag.Lookup(), which also finds arguments that were *defined*, but not necessarily *set*.
func isArgSet(arg string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == arg {
			found = true
		}
	})
	return found
}

func (c *config) validate(logger *zap.Logger) {
	if c.RedisAddr == "" {
		if c.StoragePath == "" {
			userCacheDir, err := os.UserCacheDir()
			if err != nil {
				logger.Fatal("Couldn't determine user cache directory via `os.UserCacheDir()`", zap.Error(err))
			}
			// Add two levels, because even if we're in `os.UserCacheDir()`, on Windows that's for example `C:\Users\John\AppData\Local`
			c.StoragePath = filepath.Join(userCacheDir, "aiostreams/badger")
		} else {
			c.StoragePath = filepath.Clean(c.StoragePath)
		}
		// If the dir doesn't exist, BadgerDB creates it when writing its DB files.
	}

	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		logger.Fatal("Invalid base URL", zap.String("baseURL", c.BaseURL))
	}

	if c.LibraryStaleThreshold >= c.LibraryRefreshInterval {
		logger.Fatal("The library stale threshold must be shorter than the refresh interval",
			zap.Duration("libraryStaleThreshold", c.LibraryStaleThreshold), zap.Duration("libraryRefreshInterval", c.LibraryRefreshInterval))
	}
}
