// Package demo holds the example services hosted by `svcctl serve`.
package demo

import (
	"context"

	"svcrpc/server"
)

type AddTwoIntsRequest struct {
	A int64 `json:"a"`
	B int64 `json:"b"`
}

type AddTwoIntsResponse struct {
	Sum int64 `json:"sum"`
}

func AddTwoInts(ctx context.Context, req *AddTwoIntsRequest) (*AddTwoIntsResponse, error) {
	return &AddTwoIntsResponse{Sum: req.A + req.B}, nil
}

type EchoMessage struct {
	Data string `json:"data"`
}

// Echo answers with the request. An empty request gets a null response.
func Echo(ctx context.Context, req *EchoMessage) (*EchoMessage, error) {
	if req.Data == "" {
		return nil, nil
	}
	return req, nil
}

// Register hosts every demo service on s.
func Register(s *server.Server) error {
	if err := server.Register(s, "add_two_ints", AddTwoInts); err != nil {
		return err
	}
	return server.Register(s, "echo", Echo)
}
