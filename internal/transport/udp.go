// Package transport delivers encoded frames to the consumer.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// DefaultHost and DefaultPort are where the game engine listens by default.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 5052
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("sender closed")

// Sender delivers one payload per call. Implementations must not buffer
// or retry.
type Sender interface {
	Send(payload []byte) error
	Close() error
}

// Stats receives delivery outcomes. It may be nil.
type Stats interface {
	AddSent(bytes int)
	AddSendFailure()
}

// Conn is the subset of *net.UDPConn the sender writes through.
// This abstraction enables unit testing without real network connections.
type Conn interface {
	Write(b []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
}

// UDPSender writes each payload as a single datagram to a fixed address.
type UDPSender struct {
	conn    Conn
	stats   Stats
	address string
	closed  bool
}

// NewUDPSender resolves host:port and opens a connected UDP socket.
func NewUDPSender(host string, port int, stats Stats) (*UDPSender, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create udp connection: %w", err)
	}

	return NewSender(conn, stats), nil
}

// NewSender wraps an already connected socket.
func NewSender(conn Conn, stats Stats) *UDPSender {
	address := ""
	if addr := conn.RemoteAddr(); addr != nil {
		address = addr.String()
	}
	return &UDPSender{conn: conn, stats: stats, address: address}
}

// Address returns the destination the sender writes to.
func (s *UDPSender) Address() string {
	return s.address
}

// Send writes payload once. A short write counts as a failure.
func (s *UDPSender) Send(payload []byte) error {
	if s.closed {
		s.failed()
		return ErrClosed
	}

	n, err := s.conn.Write(payload)
	if err != nil {
		s.failed()
		return fmt.Errorf("send to %s: %w", s.address, err)
	}
	if n != len(payload) {
		s.failed()
		return fmt.Errorf("send to %s: short write %d of %d bytes", s.address, n, len(payload))
	}

	if s.stats != nil {
		s.stats.AddSent(n)
	}
	return nil
}

func (s *UDPSender) failed() {
	if s.stats != nil {
		s.stats.AddSendFailure()
	}
}

// Close releases the socket. It is safe to call more than once.
func (s *UDPSender) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
