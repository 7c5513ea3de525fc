package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/isofetch/internal/downloaders/archiso"
	fetchhttp "github.com/tanq16/isofetch/internal/downloaders/http"
	"github.com/tanq16/isofetch/internal/output"
	"github.com/tanq16/isofetch/internal/transfer"
	"github.com/tanq16/isofetch/internal/utils"
)

var downloaderRegistry = map[string]utils.Downloader{
	"http": &fetchhttp.HTTPDownloader{},
	"arch": &archiso.ArchISODownloader{},
}

// pauseWatchInterval is how often a running job's status follows the pause
// signal.
var pauseWatchInterval = transfer.DefaultPauseInterval

// Run executes jobs one after another on the terminal display. Every job
// shares signals and ctx; once either is cancelled, the remaining jobs are
// skipped.
func Run(ctx context.Context, jobs []utils.Job, signals *transfer.Signals) error {
	outputMgr := output.NewManager()
	outputMgr.StartDisplay()
	defer outputMgr.StopDisplay()
	return runJobs(ctx, jobs, signals, outputMgr)
}

func runJobs(ctx context.Context, jobs []utils.Job, signals *transfer.Signals, outputMgr *output.Manager) error {
	if signals == nil {
		signals = transfer.NewSignals()
	}
	ids := make([]string, len(jobs))
	for i := range jobs {
		if jobs[i].ID == "" {
			jobs[i].ID = uuid.NewString()
		}
		ids[i] = jobs[i].ID
		label := jobs[i].OutputPath
		if label == "" {
			label = jobs[i].URL
		}
		outputMgr.Register(ids[i], label)
	}

	for i := range jobs {
		if signals.Cancelled() || ctx.Err() != nil {
			outputMgr.ReportError(ids[i], transfer.ErrCancelled)
			continue
		}
		processJob(ctx, &jobs[i], signals, outputMgr)
	}

	if _, failures := outputMgr.Summary(); failures > 0 {
		return fmt.Errorf("%d of %d jobs failed", failures, len(jobs))
	}
	return nil
}

func processJob(ctx context.Context, job *utils.Job, signals *transfer.Signals, outputMgr *output.Manager) {
	logger := log.With().Str("op", "scheduler").Str("job", job.ID).Logger()
	downloader, exists := downloaderRegistry[job.JobType]
	if !exists {
		outputMgr.ReportError(job.ID, fmt.Errorf("%w: %s", utils.ErrUnknownJobType, job.JobType))
		return
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Signals = signals

	outputMgr.SetStatus(job.ID, "pending")
	outputMgr.SetMessage(job.ID, fmt.Sprintf("Validating %s job", job.JobType))
	if err := downloader.ValidateJob(job); err != nil {
		outputMgr.ReportError(job.ID, fmt.Errorf("validation failed: %w", err))
		return
	}

	outputMgr.SetMessage(job.ID, fmt.Sprintf("Building %s job", job.JobType))
	if err := downloader.BuildJob(job); err != nil {
		outputMgr.ReportError(job.ID, fmt.Errorf("build failed: %w", err))
		return
	}

	if name, ok := job.Metadata["isoName"].(string); ok {
		outputMgr.AddStreamLine(job.ID, fmt.Sprintf("Resolved %s from %s", name, job.URL))
	}

	outputMgr.SetStatus(job.ID, "downloading")
	outputMgr.SetMessage(job.ID, fmt.Sprintf("Downloading %s", job.OutputPath))
	job.ProgressFunc = func(s transfer.State) {
		outputMgr.SetProgress(job.ID, s)
	}
	logger.Debug().Str("url", job.URL).Str("output", job.OutputPath).Msg("Starting download")
	stopWatch := watchPause(job.ID, signals, outputMgr)
	err := downloader.Download(ctx, job)
	stopWatch()
	if err != nil {
		outputMgr.ReportError(job.ID, fmt.Errorf("download failed: %w", err))
		return
	}
	outputMgr.Complete(job.ID, fmt.Sprintf("Completed %s", job.OutputPath))
}

// watchPause mirrors the pause signal into the job's status while it
// downloads. The transfer emits no progress while paused, so the status
// cannot come from the progress sink.
func watchPause(id string, signals *transfer.Signals, outputMgr *output.Manager) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(pauseWatchInterval)
		defer ticker.Stop()
		paused := false
		for {
			select {
			case <-ticker.C:
				if now := signals.Paused(); now != paused {
					paused = now
					if paused {
						outputMgr.SetStatus(id, "paused")
					} else {
						outputMgr.SetStatus(id, "downloading")
					}
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
