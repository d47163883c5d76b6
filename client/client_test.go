package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcrpc/executor"
	"svcrpc/qos"
	"svcrpc/registry"
	"svcrpc/server"
)

type AddTwoIntsRequest struct {
	A, B int64
}

type AddTwoIntsResponse struct {
	Sum int64
}

func startServer(t *testing.T, reg registry.Registry, delay time.Duration) *server.Server {
	t.Helper()
	svr := server.NewServer()
	require.NoError(t, server.Register(svr, "add_two_ints", func(ctx context.Context, req *AddTwoIntsRequest) (*AddTwoIntsResponse, error) {
		time.Sleep(delay)
		return &AddTwoIntsResponse{Sum: req.A + req.B}, nil
	}))
	require.NoError(t, server.Register(svr, "fail", func(ctx context.Context, req *AddTwoIntsRequest) (*AddTwoIntsResponse, error) {
		return nil, errors.New("boom")
	}))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.ServeListener(l, "", reg)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr
}

type harness struct {
	client *Client
	exec   *executor.SingleThreadedExecutor
}

func newHarness(t *testing.T, reg registry.Registry, service string, profile qos.Profile) *harness {
	t.Helper()
	group := executor.NewCallbackGroup(executor.MutuallyExclusive, false)
	exec := executor.NewSingleThreadedExecutor()
	require.NoError(t, exec.AddCallbackGroup(group, "test_node"))

	c, err := New(service, profile, group, Config{Registry: reg})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return &harness{client: c, exec: exec}
}

func TestAsyncSendRequest(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, 0)
	h := newHarness(t, reg, "add_two_ints", qos.Services())

	require.True(t, h.client.WaitForService(context.Background(), time.Second))

	fut, err := h.client.AsyncSendRequest(context.Background(), &AddTwoIntsRequest{A: 2, B: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, h.client.PendingRequests())

	// Without spinning the response is never delivered.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, fut.Ready())

	require.Equal(t, executor.Success, h.exec.SpinUntilFutureComplete(context.Background(), fut, time.Second))
	payload, err := fut.Get(context.Background())
	require.NoError(t, err)

	var resp AddTwoIntsResponse
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, int64(5), resp.Sum)
	assert.Equal(t, 0, h.client.PendingRequests())
}

func TestRemoteError(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, 0)
	h := newHarness(t, reg, "fail", qos.Services())
	require.True(t, h.client.WaitForService(context.Background(), time.Second))

	fut, err := h.client.AsyncSendRequest(context.Background(), &AddTwoIntsRequest{})
	require.NoError(t, err)
	require.Equal(t, executor.Success, h.exec.SpinUntilFutureComplete(context.Background(), fut, time.Second))

	_, err = fut.Get(context.Background())
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Message)
}

func TestRemovePendingRequest(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, 200*time.Millisecond)
	h := newHarness(t, reg, "add_two_ints", qos.Services())
	require.True(t, h.client.WaitForService(context.Background(), time.Second))

	fut, err := h.client.AsyncSendRequest(context.Background(), &AddTwoIntsRequest{A: 1, B: 1})
	require.NoError(t, err)
	require.Equal(t, executor.Timeout, h.exec.SpinUntilFutureComplete(context.Background(), fut, 20*time.Millisecond))

	assert.True(t, h.client.RemovePendingRequest(fut))
	assert.False(t, h.client.RemovePendingRequest(fut))
	assert.Equal(t, 0, h.client.PendingRequests())

	// The late response is dropped instead of completing the future.
	assert.Equal(t, executor.Timeout, h.exec.SpinUntilFutureComplete(context.Background(), fut, 400*time.Millisecond))
	assert.False(t, fut.Ready())
}

func TestPendingBeyondDepth(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, 100*time.Millisecond)
	profile := qos.Services()
	profile.Depth = 2
	h := newHarness(t, reg, "add_two_ints", profile)
	require.True(t, h.client.WaitForService(context.Background(), time.Second))

	futures := make([]*Future, 5)
	for i := range futures {
		fut, err := h.client.AsyncSendRequest(context.Background(), &AddTwoIntsRequest{A: int64(i)})
		require.NoError(t, err)
		futures[i] = fut
	}
	assert.Equal(t, 5, h.client.PendingRequests())

	for i, fut := range futures {
		require.Equal(t, executor.Success, h.exec.SpinUntilFutureComplete(context.Background(), fut, 2*time.Second))
		payload, err := fut.Get(context.Background())
		require.NoError(t, err)
		var resp AddTwoIntsResponse
		require.NoError(t, json.Unmarshal(payload, &resp))
		assert.Equal(t, int64(i), resp.Sum)
	}
	assert.Zero(t, h.client.PendingRequests())
}

func TestWaitForService(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	h := newHarness(t, reg, "add_two_ints", qos.Services())

	start := time.Now()
	assert.False(t, h.client.WaitForService(context.Background(), 100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	svr := server.NewServer()
	require.NoError(t, server.Register(svr, "add_two_ints", func(ctx context.Context, req *AddTwoIntsRequest) (*AddTwoIntsResponse, error) {
		return &AddTwoIntsResponse{Sum: req.A + req.B}, nil
	}))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer svr.Shutdown(time.Second)
	time.AfterFunc(50*time.Millisecond, func() { svr.ServeListener(l, "", reg) })

	assert.True(t, h.client.WaitForService(context.Background(), executor.Forever))
	assert.True(t, h.client.WaitForService(context.Background(), 0))
}

func TestWaitForServiceContextCancel(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	h := newHarness(t, reg, "add_two_ints", qos.Services())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	assert.False(t, h.client.WaitForService(ctx, executor.Forever))
}

func TestAsyncSendRequestUnavailable(t *testing.T) {
	h := newHarness(t, registry.NewMemoryRegistry(), "add_two_ints", qos.Services())
	_, err := h.client.AsyncSendRequest(context.Background(), &AddTwoIntsRequest{})
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, 0, h.client.PendingRequests())
}

func TestClose(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, 300*time.Millisecond)
	h := newHarness(t, reg, "add_two_ints", qos.Services())
	require.True(t, h.client.WaitForService(context.Background(), time.Second))

	fut, err := h.client.AsyncSendRequest(context.Background(), &AddTwoIntsRequest{})
	require.NoError(t, err)
	require.NoError(t, h.client.Close())

	_, err = fut.Get(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, h.client.RemovePendingRequest(fut))

	_, err = h.client.AsyncSendRequest(context.Background(), &AddTwoIntsRequest{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, h.client.WaitForService(context.Background(), 0))
}
