package serviceclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"svcrpc/codec"
	"svcrpc/node"
	"svcrpc/registry"
	"svcrpc/server"
)

func setupBench(b *testing.B, ct codec.CodecType) *ServiceClient[AddTwoIntsRequest, AddTwoIntsResponse] {
	b.Helper()
	reg := registry.NewMemoryRegistry()

	svr := server.NewServer()
	if err := server.Register(svr, "add_two_ints", func(ctx context.Context, req *AddTwoIntsRequest) (*AddTwoIntsResponse, error) {
		return &AddTwoIntsResponse{Sum: req.A + req.B}, nil
	}); err != nil {
		b.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	go svr.ServeListener(l, "", reg)
	b.Cleanup(func() { svr.Shutdown(3 * time.Second) })

	n, err := node.New("bench", reg, node.WithCodec(ct), node.WithPoolSize(8))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { n.Shutdown() })

	c, err := New[AddTwoIntsRequest, AddTwoIntsResponse]("add_two_ints", n)
	if err != nil {
		b.Fatal(err)
	}
	if !c.WaitForService(context.Background(), time.Second) {
		b.Fatal(errors.New("service not available"))
	}
	return c
}

func BenchmarkInvokeSerial(b *testing.B) {
	c := setupBench(b, codec.CodecTypeJSON)
	req := &AddTwoIntsRequest{A: 1, B: 2}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := c.Invoke(context.Background(), req, time.Second); err != nil {
			b.Fatal(err)
		}
	}
}

// Concurrent callers share one executor and the multiplexed transports.
func BenchmarkInvokeParallel(b *testing.B) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		b.Run(ct.String(), func(b *testing.B) {
			c := setupBench(b, ct)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				req := &AddTwoIntsRequest{A: 1, B: 2}
				for pb.Next() {
					if _, err := c.Invoke(context.Background(), req, time.Second); err != nil {
						b.Error(err)
						return
					}
				}
			})
		})
	}
}
