package netx

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialAndListen(t *testing.T) {
	ctx := context.Background()
	ln, err := Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = c.Write([]byte("hi"))
		_ = c.Close()
	}()

	conn, err := Dial(ctx, ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestDial_Error(t *testing.T) {
	orig := dialContext
	t.Cleanup(func() { dialContext = orig })

	var gotTimeout time.Duration
	dialContext = func(ctx context.Context, d *net.Dialer, network, address string) (net.Conn, error) {
		gotTimeout = d.Timeout
		return nil, errors.New("refused")
	}

	_, err := Dial(context.Background(), "example:1", 3*time.Second)
	assert.ErrorContains(t, err, "dial example:1: refused")
	assert.Equal(t, 3*time.Second, gotTimeout)
}

func TestListen_Error(t *testing.T) {
	_, err := Listen(context.Background(), "not-an-address")
	assert.Error(t, err)
}
