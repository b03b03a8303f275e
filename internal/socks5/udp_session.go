package socks5

import (
	"context"
	"net"
	"time"

	"github.com/socks5d/socks5d/internal/recovery"
)

// handleUDPAssociate implements S3-udp and S4-udp. The client-declared
// DST.ADDR/DST.PORT seeds a destination whitelist (spec §4.3 Open Question
// ii, resolved to a full endpoint match including port); an unspecified
// destination (0.0.0.0:0 or an empty domain) leaves the whitelist open.
func (s *Session) handleUDPAssociate(dst decodedAddr) error {
	whitelist, err := s.resolveUDPWhitelist(dst)
	if err != nil {
		s.sendReply(ReplyHostUnreachable, nil, 0)
		return ErrUDPResolveFailure
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: s.localIP(), Port: 0})
	if err != nil {
		s.sendReply(ReplyServerFailure, nil, 0)
		return err
	}

	relay := &udpRelay{conn: udpConn, whitelist: whitelist}

	local := udpConn.LocalAddr().(*net.UDPAddr)
	if err := s.sendReply(ReplySucceeded, local.IP, uint16(local.Port)); err != nil {
		udpConn.Close()
		return err
	}

	done := make(chan struct{})
	go s.udpRelayLoop(relay, done)

	// Per RFC 1928 §7: the association terminates when the TCP connection
	// that carried the UDP ASSOCIATE request terminates.
	s.conn.SetReadDeadline(time.Time{})
	buf := make([]byte, 1)
	for {
		if _, err := s.conn.Read(buf); err != nil {
			break
		}
	}

	udpConn.Close()
	<-done
	return nil
}

// resolveUDPWhitelist resolves the client-declared destination into zero or
// more whitelist entries. An unspecified address yields an open whitelist.
func (s *Session) resolveUDPWhitelist(dst decodedAddr) ([]udpWhitelistEntry, error) {
	if dst.atyp == AddrTypeDomain {
		if dst.host == "" {
			return nil, nil
		}
		addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), dst.host)
		if err != nil || len(addrs) == 0 {
			return nil, ErrUDPResolveFailure
		}
		entries := make([]udpWhitelistEntry, len(addrs))
		for i, a := range addrs {
			entries[i] = udpWhitelistEntry{ip: a.IP, port: dst.port}
		}
		return entries, nil
	}

	if dst.ip == nil || dst.ip.IsUnspecified() {
		return nil, nil
	}
	return []udpWhitelistEntry{{ip: dst.ip, port: dst.port}}, nil
}

// localIP returns the address the TCP control connection was accepted on,
// so the UDP relay socket binds to the same interface.
func (s *Session) localIP() net.IP {
	if tcpAddr, ok := s.conn.LocalAddr().(*net.TCPAddr); ok {
		return tcpAddr.IP
	}
	return net.IPv4zero
}

// udpRelayLoop is S4-udp. Each datagram is classified in order: (1) if a
// destination endpoint has been learned and the sender equals it, it's
// destination->client and gets wrapped and sent back to the client; (2)
// otherwise, if the whitelist is non-empty and the sender isn't in it, it's
// dropped; (3) otherwise it's client->destination: the client endpoint is
// learned/refreshed from the sender and the datagram is unwrapped and
// forwarded. Malformed or fragmented datagrams are dropped silently.
func (s *Session) udpRelayLoop(r *udpRelay, done chan<- struct{}) {
	defer close(done)
	defer recovery.RecoverWithLog(s.logger, "udpRelayLoop")

	buf := make([]byte, 65535)
	for {
		s.touch()
		if s.keepAlive > 0 {
			r.conn.SetReadDeadline(time.Now().Add(s.keepAlive))
		}

		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		if r.dstEndpoint != nil && from.IP.Equal(r.dstEndpoint.IP) && from.Port == r.dstEndpoint.Port {
			s.forwardReturnDatagram(r, from, buf[:n])
			continue
		}

		if len(r.whitelist) > 0 && !r.inWhitelist(from) {
			continue
		}

		r.cliEndpoint = from
		s.forwardClientDatagram(r, buf[:n])
	}
}

func (s *Session) forwardClientDatagram(r *udpRelay, data []byte) {
	h, ok := parseUDPDatagram(data)
	if !ok {
		return
	}

	var dest *net.UDPAddr
	if h.domain != "" {
		addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), h.domain)
		if err != nil || len(addrs) == 0 {
			return
		}
		dest = &net.UDPAddr{IP: addrs[0].IP, Port: int(h.port)}
	} else {
		dest = &net.UDPAddr{IP: net.IP(h.addr), Port: int(h.port)}
	}

	if !r.inWhitelist(dest) {
		return
	}
	r.dstEndpoint = dest
	r.conn.WriteToUDP(h.payload, dest)
	s.metrics.RecordUDPDatagram("up")
}

func (s *Session) forwardReturnDatagram(r *udpRelay, from *net.UDPAddr, payload []byte) {
	if !r.inWhitelist(from) {
		return
	}
	reply := buildUDPDatagram(atypForIP(from.IP), normalizeIPBytes(from.IP), uint16(from.Port), payload)
	r.conn.WriteToUDP(reply, r.cliEndpoint)
	s.metrics.RecordUDPDatagram("down")
}

// normalizeIPBytes returns the raw 4- or 16-byte form of ip matching its
// address family, for embedding in a UDP reply header.
func normalizeIPBytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}
