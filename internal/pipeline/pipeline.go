// Package pipeline turns detector frames into wire records and sends them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/angles"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/config"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/frame"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/log"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/normalize"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/source"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/transport"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/types"
)

// DefaultMaxConsecutiveFailures stops Run when the source keeps failing,
// e.g. a detector process that has died.
const DefaultMaxConsecutiveFailures = 50

// ErrSourceFailing is reported in Summary.Err when Run gave up on the source.
var ErrSourceFailing = errors.New("source keeps failing")

// Config is fixed for the lifetime of a Pipeline.
type Config struct {
	Normalizer normalize.Normalizer
	// Width and Height pin the canvas. 0 takes both from the first frame.
	Width  int
	Height int
	Frame  frame.Options
	// MaxConsecutiveFailures bounds back-to-back acquisition errors. 0 uses the default.
	MaxConsecutiveFailures int
}

// NewConfig derives the pipeline settings from the process config.
func NewConfig(c config.Config) Config {
	return Config{
		Normalizer: normalize.Normalizer{
			ReferenceShoulderWidth: c.ReferenceShoulderWidth,
			ReferenceBodyHeight:    c.ReferenceBodyHeight,
		},
		Width:  c.CanvasWidth,
		Height: c.CanvasHeight,
		Frame:  frame.Options{RawVisibility: c.RawVisibility},
	}
}

// Clock supplies record timestamps.
type Clock interface {
	Ticks() int64
}

// monotonicClock counts nanoseconds since the pipeline was created.
type monotonicClock struct{ start time.Time }

func (c monotonicClock) Ticks() int64 { return int64(time.Since(c.start)) }

// Stats receives per-frame outcomes. *metrics.Metrics satisfies it.
type Stats interface {
	ObserveFrame(detected bool)
	AddAcquisitionFailure()
}

// Sent describes one frame that went through Step.
type Sent struct {
	Record frame.Record
	Bytes  int
}

// Summary is what Run reports when the loop ends.
type Summary struct {
	Frames              int
	Detected            int
	Sent                int
	SendFailures        int
	AcquisitionFailures int
	Bytes               int64
	Duration            time.Duration
	// Err is set when the loop stopped for a reason other than end of stream or ctx.
	Err error
}

// FPS is the average throughput of the run.
func (s Summary) FPS() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Duration.Seconds()
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the monotonic clock.
func WithClock(c Clock) Option { return func(p *Pipeline) { p.clock = c } }

// WithStats attaches a metrics sink.
func WithStats(s Stats) Option { return func(p *Pipeline) { p.stats = s } }

// WithFrameHook is called after every Step, successful or not.
func WithFrameHook(fn func(Sent, error)) Option { return func(p *Pipeline) { p.onFrame = fn } }

type Pipeline struct {
	cfg     Config
	sender  transport.Sender
	clock   Clock
	stats   Stats
	onFrame func(Sent, error)

	width, height int

	warnSometimes   rate.Sometimes
	statusSometimes rate.Sometimes
}

func New(cfg Config, sender transport.Sender, opts ...Option) *Pipeline {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	p := &Pipeline{
		cfg:             cfg,
		sender:          sender,
		clock:           monotonicClock{start: time.Now()},
		width:           cfg.Width,
		height:          cfg.Height,
		warnSometimes:   rate.Sometimes{First: 3, Interval: 5 * time.Second},
		statusSometimes: rate.Sometimes{First: 1, Interval: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Canvas is the frame size records are built against.
func (p *Pipeline) Canvas() (int, int) { return p.width, p.height }

// Process builds the record for one detector frame without sending it.
// Frames whose keypoints are missing, short or malformed produce a
// not-detected record.
func (p *Pipeline) Process(f types.DetectorFrame) frame.Record {
	rec, _ := p.process(f)
	return rec
}

func (p *Pipeline) process(f types.DetectorFrame) (frame.Record, error) {
	width, height := p.width, p.height
	if width == 0 || height == 0 {
		width, height = f.Width, f.Height
	}
	in := frame.Input{Timestamp: p.clock.Ticks(), Width: width, Height: height}

	set, err := f.KeypointSet()
	if err != nil || !set.Complete() {
		return frame.Build(in, p.cfg.Frame), err
	}

	jointAngles := angles.Extract(set)
	norm := p.cfg.Normalizer.Normalize(set, width, height)

	in.Detected = true
	in.Keypoints = norm.Keypoints
	in.Angles = jointAngles
	return frame.Build(in, p.cfg.Frame), nil
}

// Step processes, encodes and sends one frame. The send error is returned
// to the caller; nothing is retried.
func (p *Pipeline) Step(ctx context.Context, f types.DetectorFrame) (Sent, error) {
	rec, perr := p.process(f)
	if perr != nil {
		log.Debug(log.Fields{"err": perr}, "Dropping malformed keypoints")
	}
	if p.stats != nil {
		p.stats.ObserveFrame(rec.BodyTracking.Detected)
	}

	out := Sent{Record: rec}
	data, err := frame.Encode(rec)
	if err == nil {
		if err = ctx.Err(); err == nil {
			err = p.sender.Send(data)
		}
	}
	if err == nil {
		out.Bytes = len(data)
	}
	if p.onFrame != nil {
		p.onFrame(out, err)
	}
	return out, err
}

// Run drives src until it ends, ctx is cancelled or the source keeps
// failing. Acquisition and send failures are logged, counted and skipped.
func (p *Pipeline) Run(ctx context.Context, src source.Source) Summary {
	var sum Summary
	start := time.Now()
	defer func() { sum.Duration = time.Since(start) }()

	failures := 0
	for ctx.Err() == nil {
		f, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				break
			}
			sum.AcquisitionFailures++
			if p.stats != nil {
				p.stats.AddAcquisitionFailure()
			}
			failures++
			p.warnSometimes.Do(func() {
				log.Warn(log.Fields{"err": err, "failures": sum.AcquisitionFailures}, "Frame acquisition failed, skipping")
			})
			if failures >= p.cfg.MaxConsecutiveFailures {
				sum.Err = fmt.Errorf("%w: %d consecutive errors, last: %v", ErrSourceFailing, failures, err)
				break
			}
			continue
		}
		failures = 0
		p.freezeCanvas(f)

		sent, err := p.Step(ctx, f)
		sum.Frames++
		if sent.Record.BodyTracking.Detected {
			sum.Detected++
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			sum.SendFailures++
			p.warnSometimes.Do(func() {
				log.Warn(log.Fields{"err": err, "failures": sum.SendFailures}, "Send failed, dropping frame")
			})
			continue
		}
		sum.Sent++
		sum.Bytes += int64(sent.Bytes)
		p.statusSometimes.Do(func() {
			log.Debug(log.Fields{
				"frames":   sum.Frames,
				"detected": sent.Record.BodyTracking.Detected,
				"bytes":    sent.Bytes,
			}, "Streaming")
		})
	}
	return sum
}

// freezeCanvas adopts the first frame's size when no canvas was configured.
func (p *Pipeline) freezeCanvas(f types.DetectorFrame) {
	if (p.width == 0 || p.height == 0) && f.Width > 0 && f.Height > 0 {
		p.width, p.height = f.Width, f.Height
		log.Info(log.Fields{"width": p.width, "height": p.height}, "Canvas size fixed from first frame")
	}
}
