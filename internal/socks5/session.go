package socks5

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/socks5d/socks5d/internal/metrics"
	"github.com/socks5d/socks5d/internal/recovery"
)

// SOCKS5 protocol constants per RFC 1928.
const (
	SOCKS5Version = 0x05
)

// Command types.
const (
	CmdConnect      = 0x01
	CmdBind         = 0x02
	CmdUDPAssociate = 0x03
)

// Reply codes.
const (
	ReplySucceeded          = 0x00
	ReplyServerFailure      = 0x01
	ReplyNotAllowed         = 0x02
	ReplyNetworkUnreachable = 0x03
	ReplyHostUnreachable    = 0x04
	ReplyConnectionRefused  = 0x05
	ReplyTTLExpired         = 0x06
	ReplyCmdNotSupported    = 0x07
	ReplyAddrNotSupported   = 0x08
)

// relayBufferSize is the fixed buffer size used by each half of the TCP
// relay. UDP datagram reads use a separate 65535-byte buffer.
const relayBufferSize = 1024

// Session drives one client connection through the S0-S4 state machine:
// greeting, authentication, request, then either a TCP relay or a UDP
// associate relay. A Session is used once and discarded.
type Session struct {
	conn           net.Conn
	authenticators []Authenticator
	dialer         Dialer

	keepAlive     time.Duration
	checkInterval time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics

	deadline atomic.Int64 // unix nanoseconds; refreshed on activity

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSession creates a Session for a freshly accepted connection. A nil m
// records to the default (process-wide) metrics registry.
func NewSession(conn net.Conn, auths []Authenticator, dialer Dialer, keepAlive, checkInterval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Session {
	if dialer == nil {
		dialer = &DirectDialer{}
	}
	if len(auths) == 0 {
		auths = []Authenticator{&NoAuthAuthenticator{}}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Default()
	}
	s := &Session{
		conn:           conn,
		authenticators: auths,
		dialer:         dialer,
		keepAlive:      keepAlive,
		checkInterval:  checkInterval,
		logger:         logger,
		metrics:        m,
		stopCh:         make(chan struct{}),
	}
	s.touch()
	return s
}

// touch refreshes the session deadline.
func (s *Session) touch() {
	if s.keepAlive > 0 {
		s.deadline.Store(time.Now().Add(s.keepAlive).UnixNano())
	}
}

// expired reports whether the session has been idle past keepAlive.
func (s *Session) expired() bool {
	if s.keepAlive <= 0 {
		return false
	}
	return time.Now().UnixNano() >= s.deadline.Load()
}

// stop tears the session down. Safe to call multiple times.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.conn.Close()
	})
}

// watchDeadline polls the session deadline every checkInterval and stops the
// session once it has gone idle (spec §4.4: a dedicated goroutine sleeping
// check_duration seconds per iteration).
func (s *Session) watchDeadline() {
	defer recovery.RecoverWithLog(s.logger, "watchDeadline")

	interval := s.checkInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.expired() {
				s.stop()
				return
			}
		}
	}
}

// Run drives the session to completion: greeting, auth, request, relay.
// Protocol errors, auth failures and a no-acceptable-method greeting close
// the connection without a log line; other errors are logged at debug level.
func (s *Session) Run() {
	defer s.stop()

	s.metrics.RecordSOCKS5Connect()
	defer s.metrics.RecordSOCKS5Disconnect()

	if s.keepAlive > 0 {
		go s.watchDeadline()
	}

	username, err := s.greet()
	if err != nil {
		if err == ErrAuthFailure {
			s.metrics.RecordSOCKS5AuthFailure()
		}
		if err != ErrProtocol && err != ErrAuthFailure && err != ErrNoAcceptableMethod {
			s.logger.Debug("session handshake failed", "error", err)
		}
		return
	}
	s.touch()

	if err := s.serve(username); err != nil {
		s.logger.Debug("session ended", "error", err)
	}
}

// greet performs S0 (method negotiation) and S1a (sub-negotiation) per
// spec §4.3. Method selection uses last-match-wins: the last METHODS byte
// that matches a configured authenticator is selected, not the first.
func (s *Session) greet() (string, error) {
	ver, err := readByte(s.conn)
	if err != nil {
		return "", ErrProtocol
	}
	if ver != SOCKS5Version {
		return "", ErrProtocol
	}

	nMethods, err := readByte(s.conn)
	if err != nil {
		return "", ErrProtocol
	}
	methods, err := readExact(s.conn, int(nMethods))
	if err != nil {
		return "", ErrProtocol
	}

	var selected Authenticator
	for _, m := range methods {
		for _, auth := range s.authenticators {
			if auth.GetMethod() == m {
				selected = auth
				break
			}
		}
	}

	if selected == nil {
		s.conn.Write([]byte{SOCKS5Version, AuthMethodNoAcceptable})
		return "", ErrNoAcceptableMethod
	}

	if _, err := s.conn.Write([]byte{SOCKS5Version, selected.GetMethod()}); err != nil {
		return "", err
	}

	return selected.Authenticate(s.conn, s.conn)
}

// serve performs S2 request parsing and dispatches to the appropriate
// relay per CMD.
func (s *Session) serve(username string) error {
	ver, err := readByte(s.conn)
	if err != nil {
		return ErrProtocol
	}
	if ver != SOCKS5Version {
		return ErrProtocol
	}

	cmd, err := readByte(s.conn)
	if err != nil {
		return ErrProtocol
	}

	rsv, err := readByte(s.conn)
	if err != nil {
		return ErrProtocol
	}
	if rsv != 0x00 {
		return ErrProtocol
	}

	atyp, err := readByte(s.conn)
	if err != nil {
		return ErrProtocol
	}

	dst, err := readAddr(s.conn, atyp)
	if err != nil {
		return err
	}

	switch cmd {
	case CmdConnect:
		return s.handleConnect(dst)
	case CmdUDPAssociate:
		return s.handleUDPAssociate(dst)
	default:
		s.sendReply(ReplyCmdNotSupported, nil, 0)
		return ErrUnsupportedCommand
	}
}

// candidateEndpoints resolves dst to one or more dialable "host:port"
// strings, preserving resolver order.
func (s *Session) candidateEndpoints(dst decodedAddr) ([]string, error) {
	if dst.ip != nil {
		return []string{net.JoinHostPort(dst.host, strconv.Itoa(int(dst.port)))}, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), dst.host)
	if err != nil || len(addrs) == 0 {
		return nil, ErrConnectFailure
	}

	endpoints := make([]string, len(addrs))
	for i, a := range addrs {
		endpoints[i] = net.JoinHostPort(a.IP.String(), strconv.Itoa(int(dst.port)))
	}
	return endpoints, nil
}

// handleConnect implements S3-connect and S4-tcp. Per spec §4.3, every
// resolve or connect failure replies ConnectionRefused regardless of the
// underlying cause; this is a deliberately preserved behavior, not a
// generalized error-to-reply mapping.
func (s *Session) handleConnect(dst decodedAddr) error {
	start := time.Now()

	endpoints, err := s.candidateEndpoints(dst)
	if err != nil {
		s.sendReply(ReplyConnectionRefused, nil, 0)
		return ErrConnectFailure
	}

	var target net.Conn
	for _, endpoint := range endpoints {
		target, err = s.dialer.Dial("tcp", endpoint)
		if err == nil {
			break
		}
	}
	if target == nil {
		s.sendReply(ReplyConnectionRefused, nil, 0)
		return ErrConnectFailure
	}
	defer target.Close()

	s.metrics.RecordSOCKS5Latency(time.Since(start).Seconds())

	localAddr, _ := target.LocalAddr().(*net.TCPAddr)
	var bindIP net.IP
	var bindPort uint16
	if localAddr != nil {
		bindIP = localAddr.IP
		bindPort = uint16(localAddr.Port)
	}
	if err := s.sendReply(ReplySucceeded, bindIP, bindPort); err != nil {
		return err
	}

	return s.relay(s.conn, target)
}

// relay copies data bidirectionally with a fixed buffer, refreshing the
// session deadline before every read (spec §4.4).
func (s *Session) relay(client, target net.Conn) error {
	errCh := make(chan error, 2)
	var toTarget, toClient atomic.Int64

	go s.relayHalf(target, client, errCh, &toTarget)
	go s.relayHalf(client, target, errCh, &toClient)

	err := <-errCh
	client.Close()
	target.Close()
	<-errCh

	s.metrics.RecordBytesRelayed("up", int(toTarget.Load()))
	s.metrics.RecordBytesRelayed("down", int(toClient.Load()))

	s.logger.Debug("relay closed",
		"sent", humanize.Bytes(uint64(toTarget.Load())),
		"received", humanize.Bytes(uint64(toClient.Load())),
	)

	if err == io.EOF {
		return nil
	}
	return err
}

func (s *Session) relayHalf(dst, src net.Conn, errCh chan<- error, sent *atomic.Int64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered", "goroutine", "relayHalf", "panic", r)
			errCh <- ErrProtocol
		}
	}()

	buf := make([]byte, relayBufferSize)
	for {
		s.touch()
		if s.keepAlive > 0 {
			src.SetReadDeadline(time.Now().Add(s.keepAlive))
		}
		n, err := src.Read(buf)
		if n > 0 {
			sent.Add(int64(n))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				errCh <- werr
				return
			}
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

// sendReply writes the S2/S3 reply frame per RFC 1928 §6.
func (s *Session) sendReply(reply byte, bindIP net.IP, bindPort uint16) error {
	endpoint := encodeEndpoint(bindIP, bindPort)
	buf := make([]byte, 2, 2+len(endpoint))
	buf[0] = SOCKS5Version
	buf[1] = reply
	buf = append(buf, 0x00) // RSV
	buf = append(buf, endpoint...)
	_, err := s.conn.Write(buf)
	return err
}

