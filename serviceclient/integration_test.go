package serviceclient

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"svcrpc/client"
	"svcrpc/codec"
	"svcrpc/executor"
	"svcrpc/loadbalance"
	"svcrpc/middleware"
	"svcrpc/node"
	"svcrpc/registry"
	"svcrpc/server"
)

type MultiplyRequest struct {
	A, B int64
}

type MultiplyResponse struct {
	Product int64
}

// startArith serves add_two_ints, multiply and a slow service behind the
// logging and timeout middlewares.
func startArith(t *testing.T, reg registry.Registry, weight int) {
	t.Helper()
	svr := server.NewServer(server.WithLogger(zaptest.NewLogger(t)), server.WithWeight(weight), server.WithTTL(5))
	svr.Use(middleware.LoggingMiddleware(zaptest.NewLogger(t)))
	svr.Use(middleware.TimeoutMiddleware(100 * time.Millisecond))

	require.NoError(t, server.Register(svr, "add_two_ints", func(ctx context.Context, req *AddTwoIntsRequest) (*AddTwoIntsResponse, error) {
		return &AddTwoIntsResponse{Sum: req.A + req.B}, nil
	}))
	require.NoError(t, server.Register(svr, "multiply", func(ctx context.Context, req *MultiplyRequest) (*MultiplyResponse, error) {
		return &MultiplyResponse{Product: req.A * req.B}, nil
	}))
	require.NoError(t, server.Register(svr, "slow", func(ctx context.Context, req *AddTwoIntsRequest) (*AddTwoIntsResponse, error) {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return &AddTwoIntsResponse{}, nil
	}))

	go svr.ServeListener(listen(t), "", reg)
	t.Cleanup(func() { svr.Shutdown(2 * time.Second) })
}

func exerciseArith(t *testing.T, n *node.Node) {
	t.Helper()
	add := newAddTwoInts(t, n)
	mul, err := New[MultiplyRequest, MultiplyResponse]("multiply", n)
	require.NoError(t, err)
	slow, err := New[AddTwoIntsRequest, AddTwoIntsResponse]("slow", n)
	require.NoError(t, err)

	for i := int64(0); i < 10; i++ {
		sum, err := add.Invoke(context.Background(), &AddTwoIntsRequest{A: i, B: 10}, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, i+10, sum.Sum)

		var product MultiplyResponse
		ok, err := mul.InvokeInto(context.Background(), &MultiplyRequest{A: i, B: 3}, &product)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 3*i, product.Product)
	}

	_, err = slow.Invoke(context.Background(), &AddTwoIntsRequest{}, 2*time.Second)
	var remote *client.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, middleware.ErrTextTimeout, remote.Message)
}

func TestIntegrationMultiServer(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			reg := registry.NewMemoryRegistry()
			startArith(t, reg, 1)
			startArith(t, reg, 3)

			n := newNode(t, reg,
				node.WithLogger(zaptest.NewLogger(t)),
				node.WithCodec(ct),
				node.WithBalancer(&loadbalance.WeightedRandomBalancer{}),
				node.WithPoolSize(2),
			)
			exerciseArith(t, n)
		})
	}
}

func TestIntegrationEtcd(t *testing.T) {
	env := os.Getenv("SVCRPC_ETCD_ENDPOINTS")
	if env == "" {
		t.Skip("SVCRPC_ETCD_ENDPOINTS not set")
	}

	reg, err := registry.NewEtcdRegistry(registry.EtcdConfig{
		Endpoints:   strings.Split(env, ","),
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	startArith(t, reg, 1)
	startArith(t, reg, 1)

	n := newNode(t, reg, node.WithLogger(zaptest.NewLogger(t)))
	exerciseArith(t, n)

	// A service nobody hosts is never discovered.
	missing, err := New[AddTwoIntsRequest, AddTwoIntsResponse]("missing", n)
	require.NoError(t, err)
	assert.False(t, missing.WaitForService(context.Background(), 200*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = missing.Invoke(ctx, &AddTwoIntsRequest{}, executor.Forever)
	assert.ErrorIs(t, err, ErrInterrupted)
}
