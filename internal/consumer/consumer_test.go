package consumer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/frame"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/landmark"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/transport"
)

// MockUDPSocket implements UDPSocket for testing. Once Packets are drained
// every read times out.
type MockUDPSocket struct {
	Packets        [][]byte
	ReadIndex      int
	Closed         bool
	ReadBufferSize int
	ReadError      error
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.Packets) {
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	n := copy(b, m.Packets[m.ReadIndex])
	m.ReadIndex++
	return n, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000}, nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error { m.ReadBufferSize = bytes; return nil }

func (m *MockUDPSocket) SetReadDeadline(time.Time) error { return nil }

func (m *MockUDPSocket) Close() error { m.Closed = true; return nil }

func (m *MockUDPSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: transport.DefaultPort}
}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

func detectedRecord(t *testing.T, ts int64, x float64) []byte {
	t.Helper()
	lms := &frame.Landmarks{}
	for i := range lms {
		lms[i] = frame.Point{X: x, Y: x, Z: x, Visibility: 0.9}
	}
	data, err := frame.Encode(frame.Record{
		Timestamp: ts,
		FrameSize: frame.FrameSize{Width: 640, Height: 480},
		BodyTracking: frame.BodyTracking{
			Detected:    true,
			Landmarks:   lms,
			Angles:      &frame.Angles{LeftElbow: 90},
			BodyMetrics: &frame.BodyMetrics{LandmarkCount: 33, Confidence: 0.9},
		},
	})
	require.NoError(t, err)
	return data
}

func TestReceiverDispatchesAndSkipsMalformed(t *testing.T) {
	sock := &MockUDPSocket{
		Packets: [][]byte{
			detectedRecord(t, 1, 0.5),
			[]byte("not json"),
			[]byte(`{"timestamp":3,"frame_size":{"width":640,"height":480},"body_tracking":{"detected":false}}`),
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []frame.Record
	var recorded bytes.Buffer
	r := NewReceiver(ReceiverConfig{
		Socket:   sock,
		Recorder: &recorded,
		RcvBuf:   1 << 20,
		Handler: func(rec frame.Record, _ *net.UDPAddr) {
			got = append(got, rec)
			if len(got) == 2 {
				cancel()
			}
		},
	})

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 2)
	assert.True(t, got[0].BodyTracking.Detected)
	assert.Equal(t, 90.0, got[0].BodyTracking.Angles.LeftElbow)
	assert.False(t, got[1].BodyTracking.Detected)

	stats := r.Stats()
	assert.Equal(t, 3, stats.Received)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 1<<20, sock.ReadBufferSize)

	lines := strings.Split(strings.TrimSpace(recorded.String()), "\n")
	assert.Len(t, lines, 2, "malformed datagrams are not recorded")
}

func TestReceiverClosedSocket(t *testing.T) {
	sock := &MockUDPSocket{Closed: true}
	r := NewReceiver(ReceiverConfig{Socket: sock})
	assert.ErrorIs(t, r.Run(context.Background()), net.ErrClosed)
}

func TestReceiverSurvivesReadError(t *testing.T) {
	sock := &MockUDPSocket{
		ReadError: errors.New("connection refused"),
		Packets:   [][]byte{detectedRecord(t, 1, 0.1)},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	r := NewReceiver(ReceiverConfig{Socket: sock, Handler: func(frame.Record, *net.UDPAddr) { n++; cancel() }})
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Equal(t, 1, n)
}

func TestReceiverLoopback(t *testing.T) {
	conn, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	defer conn.Close()

	port := conn.LocalAddr().(*net.UDPAddr).Port
	sender, err := transport.NewUDPSender("127.0.0.1", port, nil)
	require.NoError(t, err)
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan frame.Record, 1)
	r := NewReceiver(ReceiverConfig{Socket: conn, Handler: func(rec frame.Record, _ *net.UDPAddr) {
		received <- rec
		cancel()
	}})
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, sender.Send(detectedRecord(t, 7, 0.25)))

	select {
	case rec := <-received:
		assert.Equal(t, int64(7), rec.Timestamp)
		assert.Equal(t, 0.25, rec.BodyTracking.Landmarks.Get(landmark.Nose).X)
	case <-time.After(5 * time.Second):
		t.Fatal("no datagram received")
	}
	<-done
}

func recordAt(x float64) frame.Record {
	lms := &frame.Landmarks{}
	for i := range lms {
		lms[i] = frame.Point{X: x, Y: x, Z: x, Visibility: x}
	}
	return frame.Record{BodyTracking: frame.BodyTracking{Detected: true, Landmarks: lms}}
}

func TestSmoother(t *testing.T) {
	s := NewSmoother(DefaultSmoothingFactor)

	first := s.Apply(recordAt(0))
	assert.Equal(t, 0.0, first.BodyTracking.Landmarks.Get(landmark.Nose).X)

	in := recordAt(1)
	second := s.Apply(in)
	p := second.BodyTracking.Landmarks.Get(landmark.Nose)
	assert.InDelta(t, 0.2, p.X, 1e-12)
	assert.InDelta(t, 0.2, p.Y, 1e-12)
	assert.InDelta(t, 0.2, p.Z, 1e-12)
	assert.Equal(t, 1.0, p.Visibility, "visibility is not smoothed")
	assert.Equal(t, 1.0, in.BodyTracking.Landmarks.Get(landmark.Nose).X, "input must not be modified")

	third := s.Apply(recordAt(1))
	assert.InDelta(t, 0.36, third.BodyTracking.Landmarks.Get(landmark.LeftWrist).X, 1e-12)
}

func TestSmootherResetsWhenBodyLost(t *testing.T) {
	s := NewSmoother(DefaultSmoothingFactor)
	s.Apply(recordAt(0))

	lost := s.Apply(frame.Record{})
	assert.False(t, lost.BodyTracking.Detected)

	back := s.Apply(recordAt(1))
	assert.Equal(t, 1.0, back.BodyTracking.Landmarks.Get(landmark.Nose).X)
}
