package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/isofetch/internal/downloaders/archiso"
	"github.com/tanq16/isofetch/internal/utils"
)

func newArchCmd() *cobra.Command {
	var outputPath string
	var mirror string

	cmd := &cobra.Command{
		Use:     "arch [--output OUTPUT_PATH] [--mirror MIRROR_URL]",
		Short:   "Download the latest Arch Linux x86_64 ISO",
		Aliases: []string{"archiso"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runJobs(cmd.Context(), []utils.Job{newJob("arch", mirror, outputPath)})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file, or directory (existing or ending in /)")
	cmd.Flags().StringVarP(&mirror, "mirror", "m", archiso.DefaultMirror, "Mirror directory listing the ISO")
	return cmd
}
