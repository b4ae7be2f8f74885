package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gostremio "github.com/deflix-tv/go-stremio"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/metadata"
)

const version = "1.0.0"

func main() {
	// A bootstrap logger until the log level and encoding are known
	logger, err := gostremio.NewLogger("info", "")
	if err != nil {
		fmt.Println("Couldn't create bootstrap logger:", err)
		os.Exit(1)
	}

	config := parseConfig(logger)
	config.validate(logger)

	logger, err = gostremio.NewLogger(config.LogLevel, config.LogEncoding)
	if err != nil {
		fmt.Println("Couldn't create logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configJSON, err := json.Marshal(config)
	if err != nil {
		logger.Fatal("Couldn't marshal config to JSON", zap.Error(err))
	}
	logger.Info("Parsed config", zap.ByteString("config", configJSON))

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	stores, err := createStores(config, logger)
	if err != nil {
		logger.Fatal("Couldn't create stores", zap.Error(err))
	}
	defer stores.close(logger)
	go stores.runGC(mainCtx, logger)
	go stores.logStats(mainCtx, logger)

	metaOpts := metadata.NewClientOpts(config.BaseURLcinemeta, config.BaseURLkitsu, config.BaseURLtmdb, config.TMDBkey,
		metadata.DefaultClientOpts.Timeout, config.CacheAgeMetadata)
	metaClient := metadata.NewClient(metaOpts, stores.metadata, logger)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		// Resolving can poll a debrid service for minutes during
		// cache-and-play, so the write timeout must cover that.
		WriteTimeout: 5 * time.Minute,
	})
	app.Use(fiberrecover.New())
	app.Use(cors.New())
	app.Use(createTimerMiddleware(logger))

	app.Get("/health", createHealthHandler())
	app.Get("/status", createStatusHandler(time.Now(), stores))

	userMiddleware := createUserMiddleware(config, stores, metaClient, logger)
	app.Get("/:userData/manifest.json", userMiddleware, createManifestHandler(logger))
	app.Get("/:userData/stream/:type/:id", userMiddleware, createStreamHandler(config, metaClient, logger))
	app.Get("/:userData/catalog/:type/:id/:extra", userMiddleware, createCatalogHandler(logger))
	app.Get("/:userData/catalog/:type/:id", userMiddleware, createCatalogHandler(logger))
	app.Get("/:userData/meta/:type/:id", userMiddleware, createMetaHandler(logger))
	app.Get("/:userData/resolve/:handle", userMiddleware, createResolveHandler(logger))
	app.Post("/:userData/library/refresh", userMiddleware, createLibraryRefreshHandler(logger))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		addr := fmt.Sprintf("%v:%v", config.BindAddr, config.Port)
		logger.Info("Starting server", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Couldn't start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", zap.Stringer("signal", sig))
		mainCancel()
		if err := app.Shutdown(); err != nil {
			logger.Error("Couldn't shut down server gracefully", zap.Error(err))
		}
	case <-stopped:
	}
}
