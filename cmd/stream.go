package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/config"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/log"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/metrics"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/pipeline"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/source"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/transport"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/utils"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/worker"
)

var streamRecordPath string

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Run the pose detector and stream body tracking frames over UDP",
	Long: `Starts the detector worker, turns every frame it reports into a body
tracking record and sends it as one UDP datagram to the consumer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runStream(cmd.Context(), cfg)
	},
}

func init() {
	addPipelineFlags(streamCmd)
	streamCmd.Flags().StringVar(&flagCfg.WorkerCommand, "worker-cmd", flagCfg.WorkerCommand, "Detector command line")
	streamCmd.Flags().DurationVar(&flagCfg.WorkerTimeout, "worker-timeout", flagCfg.WorkerTimeout, "Maximum wait for one detector frame (0: no limit)")
	streamCmd.Flags().StringVarP(&streamRecordPath, "record", "r", "", "Also write detector frames to this file for later replay")
	rootCmd.AddCommand(streamCmd)
}

func runStream(ctx context.Context, c config.Config) error {
	command, err := utils.SplitCommand(c.WorkerCommand)
	if err != nil {
		utils.ShowError("Invalid worker command", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting pose detector...")
	w, err := worker.NewPythonWorker(0, worker.Config{Command: command, ReadTimeout: c.WorkerTimeout})
	if err != nil {
		utils.ShowError("Failed to start detector worker", err, nil)
		return err
	}

	var (
		src      source.Source = w
		recorder *source.Recorder
	)
	if streamRecordPath != "" {
		f, err := os.Create(streamRecordPath)
		if err != nil {
			w.Close()
			utils.ShowError("Failed to create recording file", err, nil)
			return err
		}
		defer f.Close()
		recorder = &source.Recorder{Src: w, W: f}
		src = recorder
		fmt.Fprintf(os.Stderr, "💾 Recording detector frames to %s\n", streamRecordPath)
	}

	sum, err := streamFrom(ctx, c, src, nil)
	if err != nil {
		return err
	}
	if recorder != nil && recorder.Err() != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Recording %s is incomplete: %v\n", streamRecordPath, recorder.Err())
	}
	if sum.Err != nil {
		// The detector most likely died; its stderr explains why.
		utils.ShowError("Detector stopped delivering frames", sum.Err, w.Cmd)
		return sum.Err
	}
	return nil
}

// streamFrom runs the pipeline over src and owns its shutdown: source first,
// then the socket, then the metrics server.
func streamFrom(ctx context.Context, c config.Config, src source.Source, hook func(pipeline.Sent, error)) (pipeline.Summary, error) {
	var (
		m     *metrics.Metrics
		stats transport.Stats
	)
	opts := []pipeline.Option{}
	if c.MetricsAddr != "" {
		m = metrics.New()
		stats = m
		opts = append(opts, pipeline.WithStats(m))
	}
	if hook != nil {
		opts = append(opts, pipeline.WithFrameHook(hook))
	}

	sender, err := transport.NewUDPSender(c.Host, c.Port, stats)
	if err != nil {
		src.Close()
		utils.ShowError("Failed to open UDP socket", err, nil)
		return pipeline.Summary{}, err
	}

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if m != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Serve(metricsCtx, c.MetricsAddr); err != nil {
				log.Error(log.Fields{"addr": c.MetricsAddr, "err": err}, "Metrics server failed")
			}
		}()
		fmt.Fprintf(os.Stderr, "📈 Metrics on http://%s/metrics\n", c.MetricsAddr)
	}

	fmt.Fprintf(os.Stderr, "📡 Streaming to udp://%s\n", sender.Address())
	p := pipeline.New(pipeline.NewConfig(c), sender, opts...)
	sum := p.Run(ctx, src)

	if err := src.Close(); err != nil {
		log.Debug(log.Fields{"err": err}, "Source exited with error")
	}
	sender.Close()
	stopMetrics()
	wg.Wait()

	printSummary(sum)
	return sum, nil
}

func printSummary(sum pipeline.Summary) {
	fmt.Fprintf(os.Stderr, "\n✅ Stream finished in %s: %d frames (%d with a body), %d sent, %.1f fps\n",
		utils.FmtDuration(sum.Duration), sum.Frames, sum.Detected, sum.Sent, sum.FPS())
	if sum.SendFailures > 0 || sum.AcquisitionFailures > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  %d send failures, %d frames the source could not deliver\n", sum.SendFailures, sum.AcquisitionFailures)
	}
}
