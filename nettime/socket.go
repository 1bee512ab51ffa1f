package nettime

import (
	"errors"
	"net"
	"time"
)

// ErrWouldBlock is returned by RecvFrom when no datagram is currently
// available, mirroring the non-blocking recv_from contract of spec §4.H.
var ErrWouldBlock = errors.New("nettime: would block")

// ErrUnsupportedPlatform is returned by SetReuseAddr/SetReusePort on
// platforms with no socket-option support wired in (anything but linux).
var ErrUnsupportedPlatform = errors.New("nettime: socket option unsupported on this platform")

// pollInterval bounds how long RecvFrom's read deadline extends before
// giving up and returning ErrWouldBlock, turning a blocking *net.UDPConn
// into the non-blocking socket the connection/group workers expect to poll.
const pollInterval = time.Millisecond

// Socket is a thin non-blocking wrapper over *net.UDPConn (spec §4.H).
type Socket struct {
	conn *net.UDPConn
}

// Bind opens and binds a UDP socket at addr ("" host binds all interfaces).
func Bind(addr string) (*Socket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &Socket{conn: conn}, nil
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close releases the underlying file descriptor.
func (s *Socket) Close() error { return s.conn.Close() }

// SendTo writes b as a single datagram to addr.
func (s *Socket) SendTo(b []byte, addr net.Addr) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		var err error
		udpAddr, err = net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return err
		}
	}
	_, err := s.conn.WriteToUDP(b, udpAddr)
	return err
}

// RecvFrom reads one datagram into buf, returning ErrWouldBlock if none
// arrives within pollInterval.
func (s *Socket) RecvFrom(buf []byte) (n int, addr *net.UDPAddr, err error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
		return 0, nil, err
	}
	n, addr, err = s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}
	return n, addr, nil
}

// SetSendBuf sets the kernel send buffer size in bytes.
func (s *Socket) SetSendBuf(n int) error { return s.conn.SetWriteBuffer(n) }

// SetRecvBuf sets the kernel receive buffer size in bytes.
func (s *Socket) SetRecvBuf(n int) error { return s.conn.SetReadBuffer(n) }
