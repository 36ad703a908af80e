package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/config"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/pipeline"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/source"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/utils"
)

var replayOpts source.ReplayOptions

var replayCmd = &cobra.Command{
	Use:   "replay <recording>",
	Short: "Stream a recorded detector session to the consumer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runReplay(cmd.Context(), args[0], cfg, replayOpts)
	},
}

func init() {
	addPipelineFlags(replayCmd)
	replayCmd.Flags().Float64Var(&replayOpts.FPS, "fps", 30, "Playback rate in frames per second (0: as fast as possible)")
	replayCmd.Flags().BoolVar(&replayOpts.Loop, "loop", false, "Restart from the beginning at end of file")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(ctx context.Context, path string, c config.Config, opts source.ReplayOptions) error {
	if _, err := os.Stat(path); err != nil {
		utils.ShowError("Recording does not exist", err, nil)
		return err
	}

	total, err := source.CountFrames(path)
	if err != nil || total == 0 || opts.Loop {
		// Fallback to a spinner when the length is unknown or endless
		total = -1
	}

	src, err := source.OpenReplay(path, opts)
	if err != nil {
		utils.ShowError("Failed to open recording", err, nil)
		return err
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🎞️  Replaying"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
	)
	hook := func(pipeline.Sent, error) { bar.Add(1) }

	sum, err := streamFrom(ctx, c, src, hook)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	return sum.Err
}
