package archiso

import (
	"context"
	"fmt"

	fetchhttp "github.com/tanq16/isofetch/internal/downloaders/http"
	"github.com/tanq16/isofetch/internal/utils"
)

// ArchISODownloader resolves the newest Arch Linux ISO on a mirror and
// downloads it. job.URL optionally overrides the mirror.
type ArchISODownloader struct{}

func (d *ArchISODownloader) ValidateJob(job *utils.Job) error {
	if job.URL == "" {
		job.URL = DefaultMirror
	}
	return fetchhttp.ValidateURL(job.URL)
}

func (d *ArchISODownloader) BuildJob(job *utils.Job) error {
	client := utils.NewHTTPClient(job.HTTPClientConfig)
	name, downloadURL, err := ResolveLatest(context.Background(), client, job.URL)
	if err != nil {
		return err
	}
	outputPath, err := fetchhttp.ResolveOutputPath(job.OutputPath, name, 0)
	if err != nil {
		return err
	}
	job.OutputPath = outputPath
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["isoName"] = name
	job.Metadata["downloadURL"] = downloadURL
	return nil
}

func (d *ArchISODownloader) Download(ctx context.Context, job *utils.Job) error {
	downloadURL, ok := job.Metadata["downloadURL"].(string)
	if !ok || downloadURL == "" {
		return fmt.Errorf("job was not built: no download URL")
	}
	return fetchhttp.PerformTransfer(ctx, job, downloadURL)
}
