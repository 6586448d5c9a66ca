// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	applog "vocalscope/internal/log"
)

const sendErrorLogPeriod = 5 * time.Second

var ErrSenderClosed = errors.New("udp: sender closed")

// UDPSender writes datagrams to one target address.
type UDPSender struct {
	mu     sync.Mutex // guards conn across Send and Close
	conn   *net.UDPConn
	remote string
	closed bool

	errLog *applog.Limiter
}

// NewUDPSender dials targetAddress, for example "127.0.0.1:9090".
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	addr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve UDP target %q: %w", targetAddress, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial UDP target %q: %w", targetAddress, err)
	}
	applog.Infof("UDPSender: sending to %s", conn.RemoteAddr())
	return &UDPSender{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		errLog: applog.NewLimiter(sendErrorLogPeriod),
	}, nil
}

// RemoteAddr is the target address.
func (s *UDPSender) RemoteAddr() string { return s.remote }

// Send writes data as one datagram. Errors such as a refused port are
// logged at most once per period.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSenderClosed
	}
	_, err := s.conn.Write(data)
	s.mu.Unlock()
	if err != nil {
		if s.errLog.Allow() {
			applog.Warnf("UDPSender: send to %s: %v", s.remote, err)
		}
		return fmt.Errorf("send UDP packet: %w", err)
	}
	return nil
}

// Close closes the connection. Later calls return nil.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("close UDP connection: %w", err)
	}
	return nil
}

var _ interface{ Close() error } = (*UDPSender)(nil)
