package registry

import (
	"context"
	"testing"

	"github.com/duplexio/duplex/transport"
)

type pingMsg struct{}
type sumReq struct{ A, B int }
type sumResp struct{ Sum int }

func normalNop(*transport.Session, any) {}

func rpcNop(context.Context, *transport.Session, any, any) error { return nil }

// TestRegisterContracts tests that well-formed candidates of every contract
// kind are indexed correctly
func TestRegisterContracts(t *testing.T) {
	reg := New([]Candidate{
		{
			Type:   "ping.msg",
			Kind:   ContractNormal,
			New:    func() any { return &pingMsg{} },
			Normal: normalNop,
		},
		{
			Type:         "sum.request",
			Kind:         ContractRPC,
			New:          func() any { return &sumReq{} },
			ResponseType: "sum.response",
			NewResponse:  func() any { return &sumResp{} },
			RPC:          rpcNop,
		},
	})

	if _, ok := reg.Normal("ping.msg"); !ok {
		t.Error("normal handler not registered")
	}
	if _, ok := reg.RPC("sum.request"); !ok {
		t.Error("rpc handler not registered")
	}

	respType, ok := reg.ResponseType("sum.request")
	if !ok || respType != "sum.response" {
		t.Errorf("catalog lookup: got (%q, %v), want (\"sum.response\", true)", respType, ok)
	}

	// Factories for request and response shapes must both be reachable
	if v, ok := reg.NewMessage("sum.request"); !ok {
		t.Error("request factory not registered")
	} else if _, isReq := v.(*sumReq); !isReq {
		t.Errorf("request factory produced %T", v)
	}
	if v, ok := reg.NewMessage("sum.response"); !ok {
		t.Error("response factory not registered")
	} else if _, isResp := v.(*sumResp); !isResp {
		t.Errorf("response factory produced %T", v)
	}
}

// TestDuplicateRegistrationRejected tests that the first registration wins
// and the second is rejected
func TestDuplicateRegistrationRejected(t *testing.T) {
	var first, second int

	reg := New([]Candidate{
		{
			Type:   "ping.msg",
			Kind:   ContractNormal,
			New:    func() any { return &pingMsg{} },
			Normal: func(*transport.Session, any) { first++ },
		},
		{
			Type:   "ping.msg",
			Kind:   ContractNormal,
			New:    func() any { return &pingMsg{} },
			Normal: func(*transport.Session, any) { second++ },
		},
	})

	h, ok := reg.Normal("ping.msg")
	if !ok {
		t.Fatal("no handler registered")
	}

	h(nil, &pingMsg{})
	if first != 1 || second != 0 {
		t.Errorf("message delivered to the wrong handler: first=%d second=%d", first, second)
	}
}

// TestMalformedCandidatesRejectedIndividually tests that bad candidates do
// not abort registration of the remaining ones
func TestMalformedCandidatesRejectedIndividually(t *testing.T) {
	reg := New([]Candidate{
		// empty type name
		{Kind: ContractNormal, New: func() any { return &pingMsg{} }, Normal: normalNop},
		// missing factory
		{Type: "no.factory", Kind: ContractNormal, Normal: normalNop},
		// missing callback
		{Type: "no.callback", Kind: ContractNormal, New: func() any { return &pingMsg{} }},
		// rpc contract without response pairing
		{Type: "no.pair", Kind: ContractRPC, New: func() any { return &sumReq{} }, RPC: rpcNop},
		// normal contract declaring a response
		{
			Type: "extra.resp", Kind: ContractNormal,
			New: func() any { return &pingMsg{} }, Normal: normalNop,
			ResponseType: "bogus", NewResponse: func() any { return &sumResp{} },
		},
		// this one is fine and must survive its broken neighbors
		{Type: "ping.msg", Kind: ContractNormal, New: func() any { return &pingMsg{} }, Normal: normalNop},
	})

	if _, ok := reg.Normal("ping.msg"); !ok {
		t.Error("valid candidate was not registered")
	}
	for _, rejected := range []string{"", "no.factory", "no.callback", "extra.resp"} {
		if _, ok := reg.Normal(rejected); ok {
			t.Errorf("malformed candidate %q was registered", rejected)
		}
	}
	if _, ok := reg.RPC("no.pair"); ok {
		t.Error("rpc candidate without pairing was registered")
	}
}

// TestPairContract tests catalog-only declarations and pairing conflicts
func TestPairContract(t *testing.T) {
	reg := New([]Candidate{
		{
			Type:         "sum.request",
			Kind:         ContractPair,
			New:          func() any { return &sumReq{} },
			ResponseType: "sum.response",
			NewResponse:  func() any { return &sumResp{} },
		},
		// re-declaring the identical pairing is allowed
		{
			Type:         "sum.request",
			Kind:         ContractPair,
			New:          func() any { return &sumReq{} },
			ResponseType: "sum.response",
			NewResponse:  func() any { return &sumResp{} },
		},
		// a conflicting pairing is not
		{
			Type:         "sum.request",
			Kind:         ContractPair,
			New:          func() any { return &sumReq{} },
			ResponseType: "other.response",
			NewResponse:  func() any { return &sumResp{} },
		},
	})

	respType, ok := reg.ResponseType("sum.request")
	if !ok || respType != "sum.response" {
		t.Errorf("catalog lookup: got (%q, %v), want (\"sum.response\", true)", respType, ok)
	}
	if _, ok := reg.RPC("sum.request"); ok {
		t.Error("pair contract must not register a handler")
	}
}
