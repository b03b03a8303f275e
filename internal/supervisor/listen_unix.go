//go:build unix

package supervisor

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenReusable opens a TCP listener with SO_REUSEADDR set, the Go
// equivalent of the original supervisor's
// acceptor.set_option(boost::asio::socket_base::reuse_address(true))
// ahead of bind, so a restarted master can rebind immediately.
func listenReusable(address string) (*net.TCPListener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return nil, err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("listener for %s is not a *net.TCPListener", address)
	}
	return tcpLn, nil
}
