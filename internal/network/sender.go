package network

import (
	"fmt"
	"net"

	"github.com/banshee-data/tws/internal/sensor"
)

// Sender writes plots as single datagrams to a fixed destination.
type Sender struct {
	conn net.Conn
	buf  []byte
}

// NewSender dials the UDP destination address ("host:port").
func NewSender(address string) (*Sender, error) {
	conn, err := net.Dial("udp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &Sender{conn: conn, buf: make([]byte, 0, sensor.WireSize)}, nil
}

// Send encodes and transmits one plot. Not safe for concurrent use.
func (s *Sender) Send(m sensor.Measurement) error {
	s.buf = m.AppendBinary(s.buf[:0])
	if _, err := s.conn.Write(s.buf); err != nil {
		return fmt.Errorf("send plot %d: %w", m.ID, err)
	}
	return nil
}

// SendAll transmits plots in order, stopping at the first error.
func (s *Sender) SendAll(plots []sensor.Measurement) error {
	for _, m := range plots {
		if err := s.Send(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
