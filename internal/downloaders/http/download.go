package fetchhttp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tanq16/isofetch/internal/transfer"
	"github.com/tanq16/isofetch/internal/utils"
	"golang.org/x/time/rate"
)

func (d *HTTPDownloader) Download(ctx context.Context, job *utils.Job) error {
	return PerformTransfer(ctx, job, job.URL)
}

// PerformTransfer streams link into job.OutputPath with the job's client
// settings, bandwidth limit and signals.
func PerformTransfer(ctx context.Context, job *utils.Job, link string) error {
	if dir := filepath.Dir(job.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %w", err)
		}
	}
	opts := []transfer.Option{
		transfer.WithClient(utils.NewHTTPClient(job.HTTPClientConfig)),
		transfer.WithLogger(utils.GetLogger("transfer")),
	}
	if size, ok := job.Metadata["fileSize"].(int64); ok && size > 0 {
		opts = append(opts, transfer.WithKnownSize(uint64(size)))
	}
	if job.RetryDelay > 0 {
		opts = append(opts, transfer.WithRetryDelay(job.RetryDelay))
	}
	if job.BandwidthLimit > 0 {
		burst := max(int(job.BandwidthLimit), transfer.DefaultBufferSize)
		opts = append(opts, transfer.WithLimiter(rate.NewLimiter(rate.Limit(job.BandwidthLimit), burst)))
	}
	return transfer.Start(ctx, link, job.OutputPath, job.ProgressFunc, job.Signals, opts...)
}
