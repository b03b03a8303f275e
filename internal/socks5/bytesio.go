package socks5

import (
	"encoding/binary"
	"io"
)

// readByte reads exactly one byte from r. Any short read or I/O error
// yields ErrProtocol.
func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrProtocol
	}
	return buf[0], nil
}

// readPort reads exactly two bytes and interprets them big-endian.
func readPort(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrProtocol
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// readExact reads exactly n bytes. When n == 0 it succeeds with an empty
// buffer without performing I/O.
func readExact(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrProtocol
	}
	return buf, nil
}
