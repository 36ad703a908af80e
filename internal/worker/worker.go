package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/types"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/utils" // Using the SafeCommand wrapper
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reply status bytes written by the detector ahead of each body.
const (
	StatusFrame byte = 0
	StatusError byte = 1
	StatusEOF   byte = 2
)

// maxReply bounds a single reply so a corrupt header cannot allocate gigabytes.
const maxReply = 16 * 1024 * 1024

var nextRequest = []byte(`{"cmd":"next"}`)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("worker closed")

// ErrBroken is returned once a reply could not be read in full. The
// remaining bytes of that reply are still in the pipe, so no later reply
// can be framed.
var ErrBroken = errors.New("worker reply stream broken")

// Config describes how to launch the detector.
type Config struct {
	// Command is the program and its arguments.
	Command []string
	// ReadTimeout bounds the wait for one reply. 0 waits forever.
	ReadTimeout time.Duration
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	closed  bool
	broken  error
}

func NewPythonWorker(id int, cfg Config) (*PythonWorker, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("worker command is empty")
	}
	py := utils.NewSafeCommand(cfg.Command[0], cfg.Command[1:]...)

	// Side-channel pipe (FD 3) keeps frame data apart from the detector's own prints
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child holds the write end from here on
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

// Communicate sends one request and returns the status byte and body of the reply.
func (w *PythonWorker) Communicate(ctx context.Context, data []byte) (byte, []byte, error) {
	if w.broken != nil {
		return 0, nil, w.broken
	}
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return 0, nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return 0, nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok {
		var deadline time.Time
		if w.timeout > 0 {
			deadline = time.Now().Add(w.timeout)
		}
		if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
			deadline = ctxDeadline
		}
		if err := d.SetReadDeadline(deadline); err == nil {
			stop := context.AfterFunc(ctx, func() { d.SetReadDeadline(time.Now()) })
			defer stop()
		}
	}

	resp, err := w.readReply()
	if err != nil {
		w.broken = fmt.Errorf("worker %d: %w (after: %v)", w.ID, ErrBroken, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil, fmt.Errorf("worker %d: no reply within %s: %w", w.ID, w.timeout, err)
		}
		return 0, nil, err
	}
	if len(resp) == 0 {
		return 0, nil, fmt.Errorf("worker %d: empty reply", w.ID)
	}
	return resp[0], resp[1:], nil
}

func (w *PythonWorker) readReply() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // a crashed detector shows up here
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxReply {
		return nil, fmt.Errorf("worker %d: reply of %d bytes exceeds limit", w.ID, n)
	}
	body := make([]byte, n)
	_, err := io.ReadFull(w.DataPipe, body)
	return body, err
}

// Next asks the detector for one frame.
func (w *PythonWorker) Next(ctx context.Context) (types.DetectorFrame, error) {
	if w.closed {
		return types.DetectorFrame{}, ErrClosed
	}
	status, body, err := w.Communicate(ctx, nextRequest)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return types.DetectorFrame{}, fmt.Errorf("worker %d exited unexpectedly: %w", w.ID, io.ErrUnexpectedEOF)
		}
		return types.DetectorFrame{}, err
	}

	switch status {
	case StatusFrame:
		var f types.DetectorFrame
		if err := json.Unmarshal(body, &f); err != nil {
			return types.DetectorFrame{}, fmt.Errorf("worker %d sent a bad frame: %w", w.ID, err)
		}
		return f, nil
	case StatusError:
		return types.DetectorFrame{}, errors.New("python worker error: " + decodeMessage(body))
	case StatusEOF:
		return types.DetectorFrame{}, io.EOF
	default:
		return types.DetectorFrame{}, fmt.Errorf("worker %d: unknown status %d", w.ID, status)
	}
}

// decodeMessage reads a [Length][Msg] error body, tolerating a bare message.
func decodeMessage(body []byte) string {
	if len(body) >= 4 {
		n := binary.BigEndian.Uint32(body[:4])
		if int(n) == len(body)-4 {
			return string(body[4:])
		}
	}
	return string(body)
}

func (w *PythonWorker) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
