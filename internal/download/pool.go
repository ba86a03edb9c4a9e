package download

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of simultaneous downloads when none is configured
const DefaultConcurrency = 2

// Pool runs downloads with a bounded number of workers
type Pool struct {
	downloader Downloader
	limit      int
}

// NewPool creates a pool running at most limit downloads at once
func NewPool(downloader Downloader, limit int) *Pool {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Pool{downloader: downloader, limit: limit}
}

// Run downloads every request and returns the results in submission order.
// A failed download does not stop the others; its error is on the result.
func (p *Pool) Run(ctx context.Context, reqs []DownloadRequest) []*DownloadResult {
	results := make([]*DownloadResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(p.limit)
	for i, req := range reqs {
		g.Go(func() error {
			result, err := p.downloader.Download(ctx, req)
			if result == nil {
				result = &DownloadResult{
					DownloadID:   req.ID,
					Path:         req.Destination,
					State:        DownloadStateFailed,
					ExpectedSize: req.FileSize,
					Error:        err,
				}
			}
			results[i] = result
			return nil
		})
	}
	g.Wait()

	return results
}
