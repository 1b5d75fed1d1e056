package util

import (
	"context"
	"fmt"

	"github.com/duplexio/duplex/registry"
	"github.com/duplexio/duplex/transport"
)

// Message type names of the built-in demo contract served by `duplex serve`
// and exercised by the client commands.
const (
	TypeEchoRequest  = "echo.request"
	TypeEchoResponse = "echo.response"
	TypeNotify       = "notify"
)

// EchoRequest asks the server to echo a value back.
type EchoRequest struct {
	Value int64 `json:"value"`
}

// EchoResponse carries the echoed value.
type EchoResponse struct {
	Value int64 `json:"value"`
}

// NotifyMessage is a fire-and-forget text notification.
type NotifyMessage struct {
	Text string `json:"text"`
}

// ServerCandidates returns the handler registrations of the demo server.
func ServerCandidates() []registry.Candidate {
	return []registry.Candidate{
		{
			Type:         TypeEchoRequest,
			Kind:         registry.ContractRPC,
			New:          func() any { return &EchoRequest{} },
			ResponseType: TypeEchoResponse,
			NewResponse:  func() any { return &EchoResponse{} },
			RPC: func(_ context.Context, s *transport.Session, req any, resp any) error {
				resp.(*EchoResponse).Value = req.(*EchoRequest).Value
				return nil
			},
		},
		{
			Type: TypeNotify,
			Kind: registry.ContractNormal,
			New:  func() any { return &NotifyMessage{} },
			Normal: func(s *transport.Session, msg any) {
				fmt.Printf("notify from %s: %s\n", s.RemoteAddr(), msg.(*NotifyMessage).Text)
			},
		},
	}
}

// ClientCandidates returns the catalog declarations of the client side. The
// client registers no handlers, only the request/response pairing needed to
// validate and decode calls.
func ClientCandidates() []registry.Candidate {
	return []registry.Candidate{
		{
			Type:         TypeEchoRequest,
			Kind:         registry.ContractPair,
			New:          func() any { return &EchoRequest{} },
			ResponseType: TypeEchoResponse,
			NewResponse:  func() any { return &EchoResponse{} },
		},
	}
}
