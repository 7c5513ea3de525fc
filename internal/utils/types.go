package utils

import (
	"context"
	"time"

	"github.com/tanq16/isofetch/internal/transfer"
)

type Downloader interface {
	ValidateJob(job *Job) error
	BuildJob(job *Job) error
	Download(ctx context.Context, job *Job) error
}

type Job struct {
	ID               string
	JobType          string
	URL              string
	OutputPath       string
	ProgressFunc     func(transfer.State)
	Signals          *transfer.Signals
	HTTPClientConfig HTTPClientConfig
	BandwidthLimit   int64 // bytes per second, 0 for unlimited
	RetryDelay       time.Duration
	Metadata         map[string]any
}

type DownloadEntry struct {
	OutputPath string `yaml:"op"`
	URL        string `yaml:"link"`
	Type       string `yaml:"type"`
}
