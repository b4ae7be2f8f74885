// Package aggregator fans a stream request out to all configured addon
// instances and library services and gathers every answer. It waits for
// all sources (each bounded by its own timeout), so a slow addon delays
// the response at most by its deadline and a broken one only contributes
// an error entry.
package aggregator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aiostreams/aiostreams/pkg/addon"
	"github.com/aiostreams/aiostreams/pkg/idparser"
	"github.com/aiostreams/aiostreams/pkg/library"
	"github.com/aiostreams/aiostreams/pkg/metadata"
	"github.com/aiostreams/aiostreams/pkg/stream"
)

// Aggregator queries all stream sources for one user configuration.
type Aggregator struct {
	metadata  *metadata.Client
	addons    []*addon.Client
	libraries []*library.Service
	logger    *zap.Logger
}

func New(md *metadata.Client, addons []*addon.Client, libraries []*library.Service, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		metadata:  md,
		addons:    addons,
		libraries: libraries,
		logger:    logger,
	}
}

// Aggregate collects stream candidates from every source. Per-source
// failures become AddonErrors; the returned error is reserved for the
// request being unusable as a whole.
func (a *Aggregator) Aggregate(ctx context.Context, mediaType string, id idparser.ParsedID) ([]stream.Stream, []addon.AddonError, error) {
	start := time.Now()
	zapFieldID := zap.String("id", id.String())

	// The library search needs titles to match against. Metadata failure
	// only disables the library sources, it doesn't fail the request.
	var md metadata.Metadata
	var mdErr error
	if len(a.libraries) > 0 && a.metadata != nil {
		md, mdErr = a.metadata.Get(ctx, id)
		if mdErr != nil {
			a.logger.Warn("Couldn't fetch metadata, skipping library search", zap.Error(mdErr), zapFieldID)
		}
	}

	var mu sync.Mutex
	var streams []stream.Stream
	var addonErrors []addon.AddonError

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range a.addons {
		c := c
		g.Go(func() error {
			addonCtx, cancel := context.WithTimeout(gctx, c.Timeout())
			defer cancel()

			results, errs := c.Streams(addonCtx, mediaType, id.String())
			mu.Lock()
			streams = append(streams, results...)
			addonErrors = append(addonErrors, errs...)
			mu.Unlock()
			return nil
		})
	}
	if mdErr == nil {
		for _, lib := range a.libraries {
			lib := lib
			g.Go(func() error {
				results, err := lib.Search(gctx, md, id)
				mu.Lock()
				if err != nil {
					addonErrors = append(addonErrors, addon.AddonError{
						Title:       "Library (" + lib.ID() + ")",
						Description: err.Error(),
					})
				} else {
					streams = append(streams, results...)
				}
				mu.Unlock()
				return nil
			})
		}
	}
	// Workers never return errors, they report through addonErrors
	_ = g.Wait()

	a.logger.Debug("Aggregation finished",
		zap.Int("streams", len(streams)),
		zap.Int("errors", len(addonErrors)),
		zap.Duration("duration", time.Since(start)),
		zapFieldID)
	return streams, addonErrors, nil
}
