// Package netx holds the TCP plumbing shared by the client and the server.
package netx

import (
	"context"
	"fmt"
	"net"
	"time"
)

// KeepAlive is the TCP keep-alive period set on every connection.
const KeepAlive = 30 * time.Second

// dialContext is a seam for tests.
var dialContext = func(ctx context.Context, d *net.Dialer, network, address string) (net.Conn, error) {
	return d.DialContext(ctx, network, address)
}

// Dial opens a TCP connection to address, giving up after timeout (zero
// means only ctx bounds the attempt).
func Dial(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout, KeepAlive: KeepAlive}
	conn, err := dialContext(ctx, d, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}

// Listen opens a TCP listener with the same keep-alive settings.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}
	return ln, nil
}
