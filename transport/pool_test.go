package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcrpc/codec"
)

func TestPoolReusesIdleTransport(t *testing.T) {
	addr := startServer(t)
	dials := 0
	p := NewPool(addr, 4, func(addr string) (*ClientTransport, error) {
		dials++
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewClientTransport(conn, codec.CodecTypeJSON, 0), nil
	})
	defer p.Close()

	t1, err := p.Get()
	require.NoError(t, err)
	t2, err := p.Get()
	require.NoError(t, err)
	assert.Same(t, t1, t2)
	assert.Equal(t, 1, dials)

	// A busy transport makes the pool grow.
	_, _, err = t1.Send("slow", &Args{A: 1})
	require.NoError(t, err)
	t3, err := p.Get()
	require.NoError(t, err)
	assert.NotSame(t, t1, t3)
	assert.Equal(t, 2, p.Len())

	// Closed transports are dropped.
	require.NoError(t, t3.Close())
	t4, err := p.Get()
	require.NoError(t, err)
	assert.NotSame(t, t3, t4)
}

func TestPoolClosed(t *testing.T) {
	p := NewPool("127.0.0.1:1", 1, func(addr string) (*ClientTransport, error) {
		t.Fatal("factory must not be called")
		return nil, nil
	})
	require.NoError(t, p.Close())
	_, err := p.Get()
	assert.ErrorIs(t, err, ErrPoolClosed)
}
