// Package processor turns the raw aggregated candidate list into the
// final stream list: parse, availability-check, filter, sort, dedupe
// and binge-group tagging. Apart from the availability check, every
// step is pure, so the output depends only on the input list and the
// user's options, never on arrival order or timing.
package processor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aiostreams/aiostreams/pkg/stream"
)

// HashChecker is the slice of a debrid client the availability step
// needs.
type HashChecker interface {
	CheckHashes(ctx context.Context, hashes []string) (map[string]bool, error)
}

// NzbChecker is implemented by checkers that can also check usenet
// content digests.
type NzbChecker interface {
	CheckNzbs(ctx context.Context, hashes []string) (map[string]bool, error)
}

// Options configure one processing run.
type Options struct {
	Filters Filters
	Sort    SortOptions
	Dedupe  DedupeMode
	// AutoPlay enables binge-group tagging. When off, groups are
	// stripped so the player never auto-advances.
	AutoPlay bool
	// SkipProcessing bypasses availability, filtering, sorting and
	// deduplication; candidates are only enriched and tagged.
	SkipProcessing bool
	// Owned maps service IDs to the content hashes the account's
	// library already holds. Matching candidates are flagged as library
	// entries and skip the network check.
	Owned map[string]map[string]bool
}

// Processor runs the pipeline for one user configuration.
type Processor struct {
	checkers map[string]HashChecker
	opts     Options
	logger   *zap.Logger
}

func New(checkers map[string]HashChecker, opts Options, logger *zap.Logger) *Processor {
	return &Processor{
		checkers: checkers,
		opts:     opts,
		logger:   logger,
	}
}

// Process runs the full pipeline and returns the final ordered list.
func (p *Processor) Process(ctx context.Context, streams []stream.Stream) []stream.Stream {
	start := time.Now()
	in := len(streams)

	streams = Enrich(streams)
	if p.opts.SkipProcessing {
		p.tagBingeGroups(streams)
		return streams
	}

	p.availability(ctx, streams)
	streams = Filter(streams, p.opts.Filters)
	Sort(streams, p.opts.Sort)
	streams = Dedupe(streams, p.opts.Dedupe)
	p.tagBingeGroups(streams)

	p.logger.Debug("Processed streams",
		zap.Int("in", in), zap.Int("out", len(streams)), zap.Duration("duration", time.Since(start)))
	return streams
}

// availability resolves the cached-state of unconfirmed debrid
// candidates, one batched check per service. Failures leave the
// candidates uncached instead of failing the request.
func (p *Processor) availability(ctx context.Context, streams []stream.Stream) {
	torrents := map[string][]int{}
	usenet := map[string][]int{}
	for i, st := range streams {
		if st.InfoHash == "" {
			continue
		}
		// The library already holds this content: no check needed
		if owned := p.opts.Owned[st.Service.ID]; owned[st.InfoHash] {
			streams[i].Library = true
			streams[i].Service.Cached = true
			continue
		}
		if st.Confirmed || st.Service.Cached {
			continue
		}
		if _, ok := p.checkers[st.Service.ID]; !ok {
			continue
		}
		switch st.Type {
		case stream.TypeTorrent:
			torrents[st.Service.ID] = append(torrents[st.Service.ID], i)
		case stream.TypeUsenet:
			usenet[st.Service.ID] = append(usenet[st.Service.ID], i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for serviceID, indexes := range torrents {
		serviceID, indexes := serviceID, indexes
		g.Go(func() error {
			p.check(gctx, streams, indexes, p.checkers[serviceID].CheckHashes, serviceID)
			return nil
		})
	}
	for serviceID, indexes := range usenet {
		nc, ok := p.checkers[serviceID].(NzbChecker)
		if !ok {
			continue
		}
		serviceID, indexes := serviceID, indexes
		g.Go(func() error {
			p.check(gctx, streams, indexes, nc.CheckNzbs, serviceID)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Processor) check(ctx context.Context, streams []stream.Stream, indexes []int, check func(context.Context, []string) (map[string]bool, error), serviceID string) {
	hashes := make([]string, 0, len(indexes))
	for _, i := range indexes {
		hashes = append(hashes, streams[i].InfoHash)
	}
	availability, err := check(ctx, hashes)
	if err != nil {
		p.logger.Warn("Couldn't check availability", zap.Error(err), zap.String("debridService", serviceID))
		return
	}
	for _, i := range indexes {
		if availability[streams[i].InfoHash] {
			streams[i].Service.Cached = true
		}
	}
}
