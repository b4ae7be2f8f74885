package debrid

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
)

// MaxHashesPerCheck caps how many info hashes go into a single
// availability request. Larger inputs are split into batches.
const MaxHashesPerCheck = 500

// CheckHashesChunked runs check over the hashes in batches of at most
// MaxHashesPerCheck, a few batches in parallel, and merges the results.
// Invalid hashes are dropped up front. A failed batch doesn't fail the
// others; its error is collected and the merged result is still returned.
func CheckHashesChunked(ctx context.Context, hashes []string, check func(ctx context.Context, batch []string) (map[string]bool, error)) (map[string]bool, error) {
	var valid []string
	for _, h := range hashes {
		if normalized, ok := NormalizeInfoHash(h); ok {
			valid = append(valid, normalized)
		}
	}
	if len(valid) == 0 {
		return map[string]bool{}, nil
	}

	var batches [][]string
	for len(valid) > 0 {
		n := MaxHashesPerCheck
		if len(valid) < n {
			n = len(valid)
		}
		batches = append(batches, valid[:n])
		valid = valid[n:]
	}

	var mu sync.Mutex
	merged := make(map[string]bool)
	var combinedErr error

	p := pool.New().WithMaxGoroutines(4).WithContext(ctx)
	for _, batch := range batches {
		batch := batch
		p.Go(func(ctx context.Context) error {
			result, err := check(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				combinedErr = multierr.Append(combinedErr, err)
				return nil
			}
			for hash, available := range result {
				if normalized, ok := NormalizeInfoHash(hash); ok {
					merged[normalized] = merged[normalized] || available
				}
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		combinedErr = multierr.Append(combinedErr, err)
	}

	return merged, combinedErr
}
