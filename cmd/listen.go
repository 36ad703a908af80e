package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/config"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/consumer"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/exercise"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/frame"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/log"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/store"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/utils"
)

// ListenOptions holds the flags of the listen command
type ListenOptions struct {
	Bind        string
	Smoothing   float64
	RecordPath  string
	SessionName string
	Calibrate   bool
	Arms        string
	MinAngle    float64
	MaxAngle    float64
	Cooldown    time.Duration
}

var listenOpts ListenOptions

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive body tracking frames and count biceps curls",
	Long: `Listens for the UDP stream, prints the tracked elbow angles and counts
biceps curl repetitions per arm. When a database is configured the session
and every rep are stored.`,
	Annotations: map[string]string{annotationDB: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runListen(cmd.Context(), cfg, listenOpts)
	},
}

func init() {
	f := listenCmd.Flags()
	f.StringVar(&listenOpts.Bind, "bind", "127.0.0.1", "Address to listen on (empty: all interfaces)")
	f.IntVar(&flagCfg.ListenPort, "listen-port", flagCfg.ListenPort, "UDP port to listen on")
	f.Float64Var(&listenOpts.Smoothing, "smooth", consumer.DefaultSmoothingFactor, "Landmark smoothing factor in [0,1) (0 disables)")
	f.StringVarP(&listenOpts.RecordPath, "record", "r", "", "Write every received frame to this file (input for plot)")
	f.StringVarP(&listenOpts.SessionName, "name", "n", "", "Session name stored with the reps")
	f.BoolVar(&listenOpts.Calibrate, "calibrate", false, "Calibrate thresholds from the first seconds of movement")
	f.StringVar(&listenOpts.Arms, "arms", "both", "Arms to count: left, right or both")
	f.Float64Var(&listenOpts.MinAngle, "min-angle", exercise.DefaultMinAngle, "Elbow angle that completes a curl")
	f.Float64Var(&listenOpts.MaxAngle, "max-angle", exercise.DefaultMaxAngle, "Elbow angle that resets the arm")
	f.DurationVar(&listenOpts.Cooldown, "cooldown", exercise.DefaultCooldown, "Minimum time between arm transitions")
	rootCmd.AddCommand(listenCmd)
}

func newCurlCounter(opts ListenOptions) (*exercise.CurlCounter, error) {
	c := exercise.NewCurlCounter()
	c.Min, c.Max, c.Cooldown = opts.MinAngle, opts.MaxAngle, opts.Cooldown
	switch opts.Arms {
	case "both":
	case "left":
		c.UseRight = false
	case "right":
		c.UseLeft = false
	default:
		return nil, fmt.Errorf("invalid --arms %q (use left, right or both)", opts.Arms)
	}
	if c.Min >= c.Max {
		return nil, fmt.Errorf("--min-angle (%.1f) must be below --max-angle (%.1f)", c.Min, c.Max)
	}
	if opts.Smoothing < 0 || opts.Smoothing >= 1 {
		return nil, fmt.Errorf("--smooth must be in [0,1), got %v", opts.Smoothing)
	}
	return c, nil
}

// session ties the counter to the store. All methods are no-ops without a DB.
type session struct {
	db     *store.Store
	id     uuid.UUID
	frames int
}

func (s *session) addRep(ctx context.Context, rep exercise.Rep, angle float64) {
	if s.db == nil {
		return
	}
	err := s.db.InsertRep(ctx, s.id, store.RepEvent{
		Arm:        rep.Arm.String(),
		ArmCount:   rep.Count,
		Total:      rep.Total,
		ElbowAngle: angle,
		At:         rep.At,
	})
	if err != nil && ctx.Err() == nil {
		log.Warn(log.Fields{"session": s.id, "err": err}, "Failed to store rep")
	}
}

func runListen(ctx context.Context, c config.Config, opts ListenOptions) error {
	counter, err := newCurlCounter(opts)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	conn, err := consumer.Listen(opts.Bind, c.ListenPort)
	if err != nil {
		utils.ShowError("Failed to open UDP socket", err, nil)
		return err
	}
	defer conn.Close()

	var recorder io.Writer
	if opts.RecordPath != "" {
		f, err := os.Create(opts.RecordPath)
		if err != nil {
			utils.ShowError("Failed to create recording file", err, nil)
			return err
		}
		defer f.Close()
		recorder = f
		fmt.Fprintf(os.Stderr, "💾 Recording frames to %s\n", opts.RecordPath)
	}

	sess := &session{db: DB}
	if DB != nil {
		sess.id, err = DB.CreateSession(ctx, opts.SessionName, counter.Min, counter.Max)
		if err != nil {
			utils.ShowError("Failed to create session", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🗄️  Session %s\n", sess.id)
	}

	if opts.Calibrate {
		counter.StartCalibration(time.Now(), exercise.DefaultCalibrationDuration)
		fmt.Fprintln(os.Stderr, "🎯 Calibrating... move your arms through a full curl.")
	}

	var smoother *consumer.Smoother
	if opts.Smoothing > 0 {
		smoother = consumer.NewSmoother(opts.Smoothing)
	}

	status := rate.Sometimes{Interval: 500 * time.Millisecond}
	lost := rate.Sometimes{Interval: 3 * time.Second}
	handler := func(rec frame.Record, _ *net.UDPAddr) {
		sess.frames++
		if smoother != nil {
			rec = smoother.Apply(rec)
		}
		bt := rec.BodyTracking
		if !bt.Detected || bt.Angles == nil {
			lost.Do(func() { fmt.Fprintln(os.Stderr, "👀 No body detected, step in front of the camera.") })
			return
		}

		left, right := bt.Angles.LeftElbow, bt.Angles.RightElbow
		reps, calibrated := counter.Update(time.Now(), left, right)
		if calibrated {
			fmt.Fprintf(os.Stderr, "🎯 Calibration complete. Min: %.1f° Max: %.1f°\n", counter.Min, counter.Max)
		}
		for _, rep := range reps {
			angle := left
			if rep.Arm == exercise.Right {
				angle = right
			}
			fmt.Printf("💪 %s arm: %d (total %d)\n", rep.Arm, rep.Count, rep.Total)
			if rep.Milestone {
				fmt.Printf("🎉 %d reps completed!\n", rep.Total)
			}
			sess.addRep(ctx, rep, angle)
		}
		status.Do(func() {
			fmt.Fprintf(os.Stderr, "L %5.1f° %-4s | R %5.1f° %-4s | reps %d\n",
				left, counter.Direction(exercise.Left), right, counter.Direction(exercise.Right), counter.Total())
		})
	}

	r := consumer.NewReceiver(consumer.ReceiverConfig{
		Socket:   conn,
		Handler:  handler,
		Recorder: recorder,
		RcvBuf:   1 << 20,
	})
	err = r.Run(ctx)

	if DB != nil {
		// ctx is already cancelled here, so close out the session on a fresh one
		if endErr := DB.EndSession(context.Background(), sess.id, sess.frames); endErr != nil {
			log.Warn(log.Fields{"session": sess.id, "err": endErr}, "Failed to close session")
		}
	}

	stats := r.Stats()
	fmt.Fprintf(os.Stderr, "\n✅ Received %d frames (%d malformed). Total reps: %d (left %d, right %d)\n",
		stats.Received, stats.Malformed, counter.Total(), counter.Count(exercise.Left), counter.Count(exercise.Right))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
