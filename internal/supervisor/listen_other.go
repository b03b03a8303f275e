//go:build !unix

package supervisor

import "net"

// listenReusable opens a plain TCP listener. SO_REUSEADDR is a POSIX
// socket option; on platforms without it this falls back to a regular
// bind, matching how the original supervisor is POSIX-only.
func listenReusable(address string) (*net.TCPListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return ln.(*net.TCPListener), nil
}
