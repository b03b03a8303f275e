package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Address types per RFC 1928.
const (
	AddrTypeIPv4   = 0x01
	AddrTypeDomain = 0x03
	AddrTypeIPv6   = 0x04
)

// decodedAddr is the result of parsing a DST.ADDR/DST.PORT (or
// BND.ADDR/BND.PORT) pair off the wire.
type decodedAddr struct {
	atyp byte
	// host is the textual form: dotted-decimal for IPv4, colon-hex groups
	// for IPv6, or the raw domain name for AddrTypeDomain.
	host string
	port uint16
	// ip is set for AddrTypeIPv4/AddrTypeIPv6, nil for AddrTypeDomain.
	ip net.IP
}

// readAddr decodes one ATYP + DST.ADDR + DST.PORT group from r. Unknown
// ATYP values and zero-length domain names are protocol errors.
func readAddr(r io.Reader, atyp byte) (decodedAddr, error) {
	switch atyp {
	case AddrTypeIPv4:
		b, err := readExact(r, 4)
		if err != nil {
			return decodedAddr{}, err
		}
		port, err := readPort(r)
		if err != nil {
			return decodedAddr{}, err
		}
		ip := net.IP(b)
		return decodedAddr{atyp: atyp, host: ip.String(), port: port, ip: ip}, nil

	case AddrTypeIPv6:
		b, err := readExact(r, 16)
		if err != nil {
			return decodedAddr{}, err
		}
		port, err := readPort(r)
		if err != nil {
			return decodedAddr{}, err
		}
		ip := net.IP(b)
		return decodedAddr{atyp: atyp, host: formatIPv6(b), port: port, ip: ip}, nil

	case AddrTypeDomain:
		dlen, err := readByte(r)
		if err != nil {
			return decodedAddr{}, err
		}
		if dlen == 0 {
			return decodedAddr{}, ErrProtocol
		}
		name, err := readExact(r, int(dlen))
		if err != nil {
			return decodedAddr{}, err
		}
		port, err := readPort(r)
		if err != nil {
			return decodedAddr{}, err
		}
		return decodedAddr{atyp: atyp, host: string(name), port: port}, nil

	default:
		return decodedAddr{}, ErrProtocol
	}
}

// formatIPv6 renders 16 raw bytes as eight colon-separated hex groups,
// matching the original implementation's fixed-width formatting rather
// than Go's canonical (compressed) net.IP.String() form.
func formatIPv6(b []byte) string {
	return fmt.Sprintf("%02X%02X:%02X%02X:%02X%02X:%02X%02X:%02X%02X:%02X%02X:%02X%02X:%02X%02X",
		b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}

// encodeEndpoint encodes an IP+port as ATYP + raw address bytes + port in
// network byte order, for use in SOCKS5 replies and UDP headers. A nil or
// unspecified-family IP falls back to a zeroed IPv4 address.
func encodeEndpoint(ip net.IP, port uint16) []byte {
	var atyp byte
	var addrBytes []byte

	if v4 := ip.To4(); v4 != nil {
		atyp = AddrTypeIPv4
		addrBytes = v4
	} else if ip != nil {
		atyp = AddrTypeIPv6
		addrBytes = ip.To16()
	} else {
		atyp = AddrTypeIPv4
		addrBytes = make([]byte, 4)
	}

	buf := make([]byte, 1+len(addrBytes)+2)
	buf[0] = atyp
	copy(buf[1:], addrBytes)
	binary.BigEndian.PutUint16(buf[1+len(addrBytes):], port)
	return buf
}

// atypForIP returns the ATYP byte matching ip's address family.
func atypForIP(ip net.IP) byte {
	if ip.To4() != nil {
		return AddrTypeIPv4
	}
	return AddrTypeIPv6
}
