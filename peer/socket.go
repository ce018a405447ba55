package peer

import (
	"net"
	"time"

	"github.com/kestrelnet/kestrel/config"
)

// socket is the subset of *net.UDPConn the scheduler loop needs, so the
// loop depends on these four methods rather than on *net.UDPConn itself.
type socket interface {
	SetReadDeadline(t time.Time) error
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	Close() error
}

// SocketOptions is a documented extension point for platform-specific
// socket tuning the scheduler applies right after binding. The only knob
// spec.md's external interfaces names — disabling SIO_UDP_CONNRESET so a
// stray ICMP port-unreachable doesn't kill the socket — is Windows-only
// ioctl territory with no portable stdlib hook, so it is left as a no-op
// default for a caller to override on the platforms that need it; wiring
// it up for one OS is outside this library's socket-binding scope
// (spec.md's Non-goal on OS socket binding minutiae).
type SocketOptions struct {
	// ConfigureConn is called once, immediately after the UDP socket is
	// bound, before the scheduler loop starts. The default is nil (no
	// extra configuration).
	ConfigureConn func(conn *net.UDPConn) error
}

func bindSocket(cfg *config.Config, opts SocketOptions) (*net.UDPConn, error) {
	network := "udp4"
	if cfg.DualStack {
		network = "udp"
	}
	conn, err := net.ListenUDP(network, cfg.LocalAddress)
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadBuffer(cfg.ReceiveBufferSize); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetWriteBuffer(cfg.SendBufferSize); err != nil {
		conn.Close()
		return nil, err
	}
	if opts.ConfigureConn != nil {
		if err := opts.ConfigureConn(conn); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}
