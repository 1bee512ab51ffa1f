//go:build linux

package nettime

import (
	"golang.org/x/sys/unix"
)

// SetReuseAddr enables SO_REUSEADDR so a bonding group's members can share
// a local port (spec §4.H addition for balancing-mode fan-in).
func (s *Socket) SetReuseAddr(enable bool) error {
	return s.setsockoptBool(unix.SO_REUSEADDR, enable)
}

// SetReusePort enables SO_REUSEPORT, letting the kernel load-balance
// incoming datagrams across several sockets bound to the same port.
func (s *Socket) SetReusePort(enable bool) error {
	return s.setsockoptBool(unix.SO_REUSEPORT, enable)
}

func (s *Socket) setsockoptBool(opt int, enable bool) error {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return err
	}
	v := 0
	if enable {
		v = 1
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, v)
	})
	if err != nil {
		return err
	}
	return setErr
}
