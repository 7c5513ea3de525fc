package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/isofetch/internal/output"
	"github.com/tanq16/isofetch/internal/utils"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := utils.ReadDownloadList(args[0])
			if err != nil {
				return err
			}
			jobs := buildJobsFromEntries(entries)
			if len(jobs) == 0 {
				return fmt.Errorf("no valid jobs found in %s", args[0])
			}
			runJobs(cmd.Context(), jobs)
			return nil
		},
	}
	return cmd
}

func buildJobsFromEntries(entries []utils.DownloadEntry) []utils.Job {
	var jobs []utils.Job
	for _, entry := range entries {
		jobType := normalizeJobType(entry.Type)
		if jobType == "" {
			output.PrintWarning(fmt.Sprintf("Unknown job type '%s', skipping %s", entry.Type, entry.URL))
			continue
		}
		jobs = append(jobs, newJob(jobType, entry.URL, entry.OutputPath))
	}
	return jobs
}

func normalizeJobType(jobType string) string {
	typeMap := map[string]string{
		"http":     "http",
		"https":    "http",
		"arch":     "arch",
		"archiso":  "arch",
		"arch-iso": "arch",
	}
	return typeMap[strings.ToLower(strings.TrimSpace(jobType))]
}
