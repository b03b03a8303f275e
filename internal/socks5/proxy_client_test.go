package socks5

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/net/proxy"
)

// TestServer_ProxyClientConnect drives the server with a real SOCKS5 client
// implementation instead of hand-rolled protocol bytes, the way an operator's
// own client would see it.
func TestServer_ProxyClientConnect(t *testing.T) {
	echoListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo listen: %v", err)
	}
	defer echoListener.Close()

	go func() {
		for {
			conn, err := echoListener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()

	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	s := NewServer(cfg)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	dialer, err := proxy.SOCKS5("tcp", s.Address().String(), nil, proxy.Direct)
	if err != nil {
		t.Fatalf("proxy.SOCKS5() error = %v", err)
	}

	conn, err := dialer.Dial("tcp", echoListener.Addr().String())
	if err != nil {
		t.Fatalf("dialer.Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(5 * time.Second))

	want := []byte("hello through socks5")
	if _, err := conn.Write(want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got := make([]byte, len(want))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}

	if !bytes.Equal(got, want) {
		t.Errorf("echo = %q, want %q", got, want)
	}
}

// TestServer_ProxyClientAuth exercises username/password sub-negotiation
// through the same client-side dialer.
func TestServer_ProxyClientAuth(t *testing.T) {
	echoListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo listen: %v", err)
	}
	defer echoListener.Close()
	go func() {
		for {
			conn, err := echoListener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.Authenticators = CreateAuthenticators(AuthConfig{
		Enabled:  true,
		Required: true,
		Users:    map[string]string{"alice": "s3cret"},
	})
	s := NewServer(cfg)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	badAuth := &proxy.Auth{User: "alice", Password: "wrong"}
	badDialer, err := proxy.SOCKS5("tcp", s.Address().String(), badAuth, proxy.Direct)
	if err != nil {
		t.Fatalf("proxy.SOCKS5() error = %v", err)
	}
	if _, err := badDialer.Dial("tcp", echoListener.Addr().String()); err == nil {
		t.Error("dial with wrong password should fail")
	}

	goodAuth := &proxy.Auth{User: "alice", Password: "s3cret"}
	goodDialer, err := proxy.SOCKS5("tcp", s.Address().String(), goodAuth, proxy.Direct)
	if err != nil {
		t.Fatalf("proxy.SOCKS5() error = %v", err)
	}
	conn, err := goodDialer.Dial("tcp", echoListener.Addr().String())
	if err != nil {
		t.Fatalf("dial with correct password should succeed: %v", err)
	}
	conn.Close()
}
