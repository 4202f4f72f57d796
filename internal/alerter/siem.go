package alerter

import (
	"fmt"
	"net"
)

// SIEMSender delivers CEF datagrams to the configured SIEM over UDP. The
// socket is bound once at construction and reused for every send; send
// errors are the caller's to log and swallow, per spec.md §4.4 (a
// momentarily unreachable SIEM must never block or fail the ingress path).
type SIEMSender struct {
	conn *net.UDPConn
}

// NewSIEMSender resolves address:port and binds an ephemeral outbound UDP
// socket to it. A resolution or bind failure here is a fatal startup error.
func NewSIEMSender(address string, port int) (*SIEMSender, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return nil, fmt.Errorf("resolve siem address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial siem socket: %w", err)
	}

	return &SIEMSender{conn: conn}, nil
}

// Send writes datagram to the SIEM socket.
func (s *SIEMSender) Send(datagram string) error {
	_, err := s.conn.Write([]byte(datagram))
	return err
}

// Close releases the underlying UDP socket.
func (s *SIEMSender) Close() error {
	return s.conn.Close()
}
