package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"testing"
	"time"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// writeReply frames a reply the way the detector does: [Length][Status][Body]
func writeReply(buf *bytes.Buffer, status byte, body []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(body)+1))
	buf.WriteByte(status)
	buf.Write(body)
}

func newMockWorker() (*PythonWorker, *MockCloser, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}
	return w, stdinMock, dataPipeMock
}

func TestNext(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()
	writeReply(dataPipeMock.Buffer, StatusFrame, []byte(`{"width":640,"height":480,"keypoints":[[0,320,240,0.9]]}`))

	f, err := w.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	// Verify Go sent the request TO Python
	sent := stdinMock.Bytes()
	if len(sent) != 4+len(nextRequest) {
		t.Fatalf("Expected %d bytes sent, got %d", 4+len(nextRequest), len(sent))
	}
	if n := binary.BigEndian.Uint32(sent[:4]); int(n) != len(nextRequest) {
		t.Errorf("Expected length header %d, got %d", len(nextRequest), n)
	}
	if !bytes.Equal(sent[4:], nextRequest) {
		t.Errorf("Expected request %s, got %s", nextRequest, sent[4:])
	}

	// Verify Go read the frame FROM Python
	if f.Width != 640 || f.Height != 480 {
		t.Errorf("Expected 640x480, got %dx%d", f.Width, f.Height)
	}
	if len(f.Keypoints) != 1 || f.Keypoints[0][3] != 0.9 {
		t.Errorf("Unexpected keypoints: %v", f.Keypoints)
	}
}

func TestNext_Error(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()

	// Protocol: [Status:1] [MsgLen] [Msg]
	errMsg := "Python Exception: camera 0 unavailable"
	body := new(bytes.Buffer)
	binary.Write(body, binary.BigEndian, uint32(len(errMsg)))
	body.WriteString(errMsg)
	writeReply(dataPipeMock.Buffer, StatusError, body.Bytes())

	_, err := w.Next(context.Background())
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestNext_EndOfStream(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	writeReply(dataPipeMock.Buffer, StatusEOF, nil)

	if _, err := w.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestNext_Crash(t *testing.T) {
	// Nothing on the pipe: the detector died before answering
	w, _, _ := newMockWorker()

	_, err := w.Next(context.Background())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Expected unexpected EOF, got %v", err)
	}
	if errors.Is(err, io.EOF) {
		t.Error("A crash must not look like a clean end of stream")
	}
}

func TestNext_BadPayload(t *testing.T) {
	tests := []struct {
		name   string
		status byte
		body   []byte
	}{
		{"Malformed JSON", StatusFrame, []byte(`{"width":`)},
		{"Unknown status", 9, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _, dataPipeMock := newMockWorker()
			writeReply(dataPipeMock.Buffer, tt.status, tt.body)
			if _, err := w.Next(context.Background()); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestNext_Timeout(t *testing.T) {
	r, wr, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer wr.Close()

	w := &PythonWorker{
		ID:       2,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: r,
		timeout:  50 * time.Millisecond,
	}
	defer w.Close()

	start := time.Now()
	_, err = w.Next(context.Background())
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Timeout did not fire")
	}
}

func TestNext_PartialReplyBreaksWorker(t *testing.T) {
	r, wr, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer wr.Close()

	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &PythonWorker{
		ID:       3,
		Stdin:    stdinMock,
		DataPipe: r,
		timeout:  100 * time.Millisecond,
	}
	defer w.Close()

	// Half a length header, then the detector stalls past the deadline
	body := []byte(`{"width":640,"height":480,"keypoints":[]}`)
	var reply bytes.Buffer
	writeReply(&reply, StatusFrame, body)
	wr.Write(reply.Bytes()[:2])

	if _, err := w.Next(context.Background()); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}
	requests := stdinMock.Len()

	// The late remainder and a fresh reply arrive; neither may be framed
	wr.Write(reply.Bytes()[2:])
	wr.Write(reply.Bytes())

	for i := 0; i < 2; i++ {
		start := time.Now()
		_, err := w.Next(context.Background())
		if !errors.Is(err, ErrBroken) {
			t.Fatalf("call %d: expected ErrBroken, got %v", i, err)
		}
		if time.Since(start) > 50*time.Millisecond {
			t.Errorf("call %d waited on the pipe instead of failing fast", i)
		}
	}
	if stdinMock.Len() != requests {
		t.Errorf("Broken worker kept sending requests: %d bytes, want %d", stdinMock.Len(), requests)
	}
}

func TestNext_ContextCancelled(t *testing.T) {
	r, wr, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer wr.Close()

	w := &PythonWorker{
		ID:       3,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: r,
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	if _, err := w.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestClose(t *testing.T) {
	w, _, _ := newMockWorker()
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if _, err := w.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestNewPythonWorker_EmptyCommand(t *testing.T) {
	if _, err := NewPythonWorker(1, Config{}); err == nil {
		t.Error("Expected error for empty command")
	}
}

func TestNewPythonWorker_MissingBinary(t *testing.T) {
	_, err := NewPythonWorker(1, Config{Command: []string{"/nonexistent/detector"}})
	if err == nil {
		t.Error("Expected start failure")
	}
}
