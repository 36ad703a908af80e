// Package source delivers detector frames to the pipeline.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/log"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/types"
)

const megabyte = 1024 * 1024

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("source closed")

// Source yields one detector frame per call. Next returns io.EOF once the
// stream has ended; any other error means this frame could not be acquired
// and the caller may try again.
type Source interface {
	Next(ctx context.Context) (types.DetectorFrame, error)
	Close() error
}

// ReplayOptions controls playback of a recorded file.
type ReplayOptions struct {
	// FPS paces playback; 0 replays as fast as possible.
	FPS  float64
	Loop bool
}

// Replay reads newline-delimited detector frames from a file.
type Replay struct {
	file    *os.File
	scanner *bufio.Scanner
	opts    ReplayOptions
	line    int
	served  int
	last    time.Time
	closed  bool
}

// OpenReplay opens a recording for playback.
func OpenReplay(path string, opts ReplayOptions) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Replay{file: f, opts: opts}
	r.reset()
	return r, nil
}

func (r *Replay) reset() {
	r.scanner = bufio.NewScanner(r.file)
	r.scanner.Buffer(make([]byte, 64*1024), 4*megabyte)
	r.line = 0
	r.served = 0
}

// CountFrames returns the number of non-empty lines in path without
// consuming a Replay. Used for progress estimation.
func CountFrames(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*megabyte)
	n := 0
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			n++
		}
	}
	return n, sc.Err()
}

// Next returns the next frame. A line that does not parse is reported as an
// acquisition error and skipped on the following call.
func (r *Replay) Next(ctx context.Context) (types.DetectorFrame, error) {
	if r.closed {
		return types.DetectorFrame{}, ErrClosed
	}
	if err := r.pace(ctx); err != nil {
		return types.DetectorFrame{}, err
	}

	for {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return types.DetectorFrame{}, fmt.Errorf("read replay line %d: %w", r.line+1, err)
			}
			if !r.opts.Loop || r.served == 0 {
				return types.DetectorFrame{}, io.EOF
			}
			if _, err := r.file.Seek(0, io.SeekStart); err != nil {
				return types.DetectorFrame{}, err
			}
			r.reset()
			continue
		}
		r.line++
		data := r.scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var f types.DetectorFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return types.DetectorFrame{}, fmt.Errorf("replay line %d: %w", r.line, err)
		}
		r.served++
		return f, nil
	}
}

func (r *Replay) pace(ctx context.Context) error {
	if r.opts.FPS <= 0 {
		return ctx.Err()
	}
	interval := time.Duration(float64(time.Second) / r.opts.FPS)
	if !r.last.IsZero() {
		if wait := interval - time.Since(r.last); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.last = time.Now()
	return nil
}

// Close releases the file.
func (r *Replay) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Static serves a fixed list of frames, then io.EOF. Useful for tests and
// for piping a single frame through the pipeline.
type Static struct {
	Frames []types.DetectorFrame
	// Errs, when set, is returned in place of the frame at the same position.
	Errs []error
	pos  int
}

// Next returns the next frame or io.EOF.
func (s *Static) Next(ctx context.Context) (types.DetectorFrame, error) {
	if err := ctx.Err(); err != nil {
		return types.DetectorFrame{}, err
	}
	if s.pos >= len(s.Frames) {
		return types.DetectorFrame{}, io.EOF
	}
	i := s.pos
	s.pos++
	if i < len(s.Errs) && s.Errs[i] != nil {
		return types.DetectorFrame{}, s.Errs[i]
	}
	return s.Frames[i], nil
}

// Close is a no-op.
func (s *Static) Close() error { return nil }

// Recorder passes frames through from Src and appends each one to W as a
// line, producing a file OpenReplay can play back. Recording never fails a
// frame: after the first write error recording stops and frames keep flowing.
type Recorder struct {
	Src Source
	W   io.Writer

	err error
}

// Next returns the next frame from Src, recording it on success.
func (r *Recorder) Next(ctx context.Context) (types.DetectorFrame, error) {
	f, err := r.Src.Next(ctx)
	if err != nil || r.err != nil {
		return f, err
	}
	data, err := json.Marshal(f)
	if err != nil {
		log.Warn(log.Fields{"err": err}, "Failed to encode frame for recording, skipping it")
		return f, nil
	}
	if _, err := r.W.Write(append(data, '\n')); err != nil {
		r.err = fmt.Errorf("record frame: %w", err)
		log.Error(log.Fields{"err": err}, "Recording stopped, streaming continues")
	}
	return f, nil
}

// Err returns the write error that stopped recording, if any.
func (r *Recorder) Err() error { return r.err }

// Close closes Src. W is owned by the caller.
func (r *Recorder) Close() error { return r.Src.Close() }
