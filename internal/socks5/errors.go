package socks5

import "errors"

// Error kinds a session must distinguish when reacting to a failure.
// ProtocolError/AuthFailure/etc. never propagate past the session that
// raised them; the server only logs them.
var (
	// ErrProtocol covers VER mismatch, RSV!=0, invalid ATYP, zero-length
	// UNAME/PASSWD/DomainName, and any short read during parsing. The
	// session closes silently: no reply is sent.
	ErrProtocol = errors.New("socks5: protocol error")

	// ErrAuthFailure is returned after a STATUS=0xFF reply has been sent.
	ErrAuthFailure = errors.New("socks5: authentication failed")

	// ErrNoAcceptableMethod is returned after a METHOD=0xFF reply has
	// been sent during the greeting.
	ErrNoAcceptableMethod = errors.New("socks5: no acceptable authentication method")

	// ErrConnectFailure covers resolve and connect failures for CONNECT;
	// callers reply REP=ConnRefused regardless of the underlying cause.
	ErrConnectFailure = errors.New("socks5: connect failed")

	// ErrUDPResolveFailure covers empty destination resolution for UDP
	// ASSOCIATE; callers reply REP=HostUnreachable.
	ErrUDPResolveFailure = errors.New("socks5: udp associate resolve failed")

	// ErrUnsupportedCommand covers BIND and any other unknown CMD;
	// callers reply REP=CommandNotSupported.
	ErrUnsupportedCommand = errors.New("socks5: unsupported command")

	// ErrRelayIO covers a read/write failure on either half of an
	// established relay. No further reply is valid once this occurs.
	ErrRelayIO = errors.New("socks5: relay I/O error")
)
