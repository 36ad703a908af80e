// Package consumer is the receiving end of the stream: it decodes datagrams
// and smooths landmark motion the way the game engine scripts do.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/frame"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/log"
)

// maxDatagram fits any UDP payload.
const maxDatagram = 65535

// pollInterval bounds how long a read blocks before ctx is checked again.
const pollInterval = 100 * time.Millisecond

// UDPSocket is the subset of *net.UDPConn the receiver reads through.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// Listen opens a UDP socket on host:port. An empty host listens on all interfaces.
func Listen(host string, port int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	return conn, nil
}

// Handler is called once per decoded record.
type Handler func(rec frame.Record, from *net.UDPAddr)

// Stats counts datagrams seen by a Receiver.
type Stats struct {
	Received  int
	Malformed int
	Bytes     int64
}

// ReceiverConfig wires a Receiver.
type ReceiverConfig struct {
	Socket  UDPSocket
	Handler Handler
	// Recorder, when set, receives every well-formed datagram followed by a newline.
	Recorder io.Writer
	// RcvBuf sets the OS receive buffer; 0 leaves it alone.
	RcvBuf int
}

// Receiver reads frame records from a socket until its context ends.
type Receiver struct {
	sock     UDPSocket
	handler  Handler
	recorder io.Writer
	rcvBuf   int
	stats    Stats
}

func NewReceiver(cfg ReceiverConfig) *Receiver {
	h := cfg.Handler
	if h == nil {
		h = func(frame.Record, *net.UDPAddr) {}
	}
	return &Receiver{sock: cfg.Socket, handler: h, recorder: cfg.Recorder, rcvBuf: cfg.RcvBuf}
}

// Stats returns the counters so far. Not safe to call concurrently with Run.
func (r *Receiver) Stats() Stats { return r.stats }

// Run reads and dispatches datagrams. It returns ctx.Err() on cancellation
// and net.ErrClosed if the socket is closed underneath it.
func (r *Receiver) Run(ctx context.Context) error {
	if r.rcvBuf > 0 {
		if err := r.sock.SetReadBuffer(r.rcvBuf); err != nil {
			log.Warn(log.Fields{"err": err, "bytes": r.rcvBuf}, "Failed to set UDP receive buffer size")
		}
	}
	log.Info(log.Fields{"addr": r.sock.LocalAddr()}, "Listening for body tracking frames")

	buffer := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.sock.SetReadDeadline(time.Now().Add(pollInterval))

		n, addr, err := r.sock.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Warn(log.Fields{"err": err}, "UDP read error")
			continue
		}
		r.handle(buffer[:n], addr)
	}
}

func (r *Receiver) handle(packet []byte, addr *net.UDPAddr) {
	r.stats.Received++
	r.stats.Bytes += int64(len(packet))

	rec, err := frame.Decode(packet)
	if err != nil {
		r.stats.Malformed++
		log.Debug(log.Fields{"from": addr, "err": err}, "Skipping malformed datagram")
		return
	}

	if r.recorder != nil {
		line := make([]byte, 0, len(packet)+1)
		line = append(append(line, packet...), '\n')
		if _, err := r.recorder.Write(line); err != nil {
			log.Warn(log.Fields{"err": err}, "Failed to record datagram")
		}
	}
	r.handler(rec, addr)
}
