//go:build !linux

package nettime

// SetReuseAddr is a documented no-op on platforms without a wired socket
// option path (spec §4.H addition).
func (s *Socket) SetReuseAddr(enable bool) error { return ErrUnsupportedPlatform }

// SetReusePort is a documented no-op on platforms without a wired socket
// option path.
func (s *Socket) SetReusePort(enable bool) error { return ErrUnsupportedPlatform }
