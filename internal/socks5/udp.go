package socks5

import (
	"encoding/binary"
	"net"
)

// udpHeader is a parsed SOCKS5 UDP request/response header (RFC 1928 §7):
//
//	+----+------+------+----------+----------+----------+
//	|RSV | FRAG | ATYP | DST.ADDR | DST.PORT |   DATA   |
//	+----+------+------+----------+----------+----------+
//	| 2  |  1   |  1   | Variable |    2     | Variable |
//	+----+------+------+----------+----------+----------+
type udpHeader struct {
	atyp    byte
	addr    []byte // raw address bytes, 4 or 16, empty for DomainName
	domain  string // set only for AddrTypeDomain
	port    uint16
	payload []byte
}

// parseUDPDatagram validates and decodes a client->destination UDP
// datagram per spec §4.3 S4-udp. Fragmented datagrams (FRAG != 0) and any
// datagram failing a length check are reported via ok=false and must be
// dropped silently by the caller, not treated as a session-ending error.
func parseUDPDatagram(data []byte) (h udpHeader, ok bool) {
	if len(data) <= 4 {
		return udpHeader{}, false
	}
	if data[0] != 0 || data[1] != 0 {
		return udpHeader{}, false
	}
	if data[2] != 0 { // FRAG
		return udpHeader{}, false
	}

	atyp := data[3]
	switch atyp {
	case AddrTypeIPv4:
		if len(data) <= 10 {
			return udpHeader{}, false
		}
		return udpHeader{
			atyp:    atyp,
			addr:    data[4:8],
			port:    binary.BigEndian.Uint16(data[8:10]),
			payload: data[10:],
		}, true

	case AddrTypeIPv6:
		if len(data) <= 22 {
			return udpHeader{}, false
		}
		return udpHeader{
			atyp:    atyp,
			addr:    data[4:20],
			port:    binary.BigEndian.Uint16(data[20:22]),
			payload: data[22:],
		}, true

	case AddrTypeDomain:
		dlen := int(data[4])
		need := 4 + 1 + dlen + 2
		if len(data) <= need {
			return udpHeader{}, false
		}
		return udpHeader{
			atyp:    atyp,
			domain:  string(data[5 : 5+dlen]),
			port:    binary.BigEndian.Uint16(data[5+dlen : 5+dlen+2]),
			payload: data[7+dlen:],
		}, true

	default:
		return udpHeader{}, false
	}
}

// buildUDPDatagram encodes a destination->client reply datagram: the fixed
// SOCKS5 UDP header followed by payload.
func buildUDPDatagram(atyp byte, addr []byte, port uint16, payload []byte) []byte {
	header := make([]byte, 4+len(addr)+2)
	header[2] = 0 // FRAG
	header[3] = atyp
	copy(header[4:], addr)
	binary.BigEndian.PutUint16(header[4+len(addr):], port)
	return append(header, payload...)
}

// udpWhitelistEntry is one client-declared destination endpoint. Matching
// is by full endpoint equality including port (spec §4.3 Open Question ii).
type udpWhitelistEntry struct {
	ip   net.IP
	port uint16
}

func (e udpWhitelistEntry) matches(addr *net.UDPAddr) bool {
	return e.ip.Equal(addr.IP) && e.port == uint16(addr.Port)
}

// udpRelay owns the UDP socket created for one UDP ASSOCIATE session and
// the learned client/destination endpoints (spec §4.3 S4-udp).
type udpRelay struct {
	conn      *net.UDPConn
	whitelist []udpWhitelistEntry

	cliEndpoint *net.UDPAddr
	dstEndpoint *net.UDPAddr
}

// inWhitelist reports whether addr matches a client-declared destination.
// An empty whitelist imposes no restriction (spec: "client-destination
// whitelist is non-empty AND ... not in the whitelist, drop").
func (r *udpRelay) inWhitelist(addr *net.UDPAddr) bool {
	if len(r.whitelist) == 0 {
		return true
	}
	for _, e := range r.whitelist {
		if e.matches(addr) {
			return true
		}
	}
	return false
}
