// Package udpsink provides a shared outbound UDP socket: a single
// always-open send socket whose destination address can be changed at any
// time and whose sends never retry.
package udpsink

import (
	"net"

	"github.com/sirupsen/logrus"
)

const writeBufSize = 32768

// Sink is a single outbound UDP socket shared by any number of logical
// destinations (echo, MAV, ...), each identified by its own *net.UDPAddr
// supplied per call to Send.
type Sink struct {
	conn   *net.UDPConn
	logger logrus.FieldLogger
}

// New opens a UDP socket on an OS-assigned local port for sending only.
// Apart from the write buffer size, net's default socket options are used;
// SO_REUSEADDR is not set.
func New(logger logrus.FieldLogger) (*Sink, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	_ = conn.SetWriteBuffer(writeBufSize)
	return &Sink{conn: conn, logger: logger}, nil
}

// Send writes b to addr. It never waits for the peer and never retries: a
// write error (e.g. no route) is logged at debug level and the datagram is
// dropped, matching UDP's own best-effort delivery contract. When the OS
// send buffer is full, the write waits until the socket is writable again
// rather than dropping the datagram. addr == nil is a no-op (no
// destination configured yet).
func (s *Sink) Send(addr *net.UDPAddr, b []byte) {
	if addr == nil {
		return
	}
	if _, err := s.conn.WriteToUDP(b, addr); err != nil {
		s.logger.WithError(err).WithField("addr", addr.String()).Debug("udp send dropped")
	}
}

// Close releases the underlying socket.
func (s *Sink) Close() error {
	return s.conn.Close()
}

// ResolveAddr parses "host:port" into a *net.UDPAddr, returning nil, nil
// for an empty string (meaning "no destination configured").
func ResolveAddr(hostport string) (*net.UDPAddr, error) {
	if hostport == "" {
		return nil, nil
	}
	return net.ResolveUDPAddr("udp", hostport)
}
