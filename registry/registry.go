// Package registry holds the startup-built table that binds message types
// to handling logic, plus the request/response catalog consulted before a
// call is sent and when a reply is constructed.
//
// The registry is built exactly once from an explicit candidate list
// supplied by the embedding application. There is no reflection scanning;
// every binding is declared statically. Malformed candidates are rejected
// individually with a diagnostic, registration of the remaining candidates
// continues. After construction the registry is read-only and safe for
// concurrent use.
package registry

import (
	"context"
	"fmt"

	"github.com/duplexio/duplex/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("registry")

// --------------------------------------------------------------------------
// Contracts
// --------------------------------------------------------------------------

// ContractKind declares how a candidate's handler is shaped.
type ContractKind uint8

const (
	// ContractNormal binds a message type to a fire-and-forget callback
	ContractNormal ContractKind = iota
	// ContractRPC binds a request type to a response-producing callback
	ContractRPC
	// ContractPair declares a request/response pairing without a local
	// handler. Used by the calling side so the catalog can validate
	// expected response types before anything is sent.
	ContractPair
)

// String returns the string representation of a ContractKind.
func (k ContractKind) String() string {
	switch k {
	case ContractNormal:
		return "normal"
	case ContractRPC:
		return "rpc"
	case ContractPair:
		return "pair"
	default:
		return "unknown"
	}
}

// NormalHandler handles a fire-and-forget message. It produces no result;
// the sender receives no asynchronous failure signal.
type NormalHandler func(s *transport.Session, msg any)

// RPCHandler handles a request and populates resp before returning. It may
// block while producing its result; the router sends the single response
// only after the handler completed. The response identity (call id) is
// fixed by the router before the handler runs. A returned error is relayed
// to the caller as a remote failure instead of the response value.
type RPCHandler func(ctx context.Context, s *transport.Session, req any, resp any) error

// Candidate is one handling-logic registration supplied at startup.
type Candidate struct {
	// Type is the registered name of the message (normal) or request (rpc)
	// shape this candidate binds to
	Type string

	// Kind selects the contract the candidate must satisfy
	Kind ContractKind

	// New constructs an empty concrete value of Type (a pointer), used by
	// the codec to reconstruct inbound messages
	New func() any

	// ResponseType and NewResponse bind the paired reply shape (rpc/pair)
	ResponseType string
	NewResponse  func() any

	// Normal is the callback for ContractNormal candidates
	Normal NormalHandler

	// RPC is the callback for ContractRPC candidates
	RPC RPCHandler
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry indexes handlers by message type and owns the request/response
// catalog and the type factory table.
type Registry struct {
	normal    map[string]NormalHandler
	rpc       map[string]RPCHandler
	catalog   map[string]string     // request type -> its one response type
	factories map[string]func() any // type name -> constructor
}

// New builds a registry from the candidate list. Rejected candidates are
// logged and skipped; they never abort registration of the others.
func New(candidates []Candidate) *Registry {
	r := &Registry{
		normal:    make(map[string]NormalHandler),
		rpc:       make(map[string]RPCHandler),
		catalog:   make(map[string]string),
		factories: make(map[string]func() any),
	}

	for i, c := range candidates {
		if err := r.register(c); err != nil {
			Logger.Errorf("rejected handler candidate %d (type %q, contract %s): %v", i, c.Type, c.Kind, err)
		}
	}

	Logger.Infof("registry built: %d normal handlers, %d rpc handlers, %d catalog pairs",
		len(r.normal), len(r.rpc), len(r.catalog))

	return r
}

// register validates one candidate and indexes it. The first registration
// for a type wins; duplicates are rejected.
func (r *Registry) register(c Candidate) error {
	if c.Type == "" {
		return fmt.Errorf("empty message type")
	}
	if c.New == nil {
		return fmt.Errorf("missing message factory")
	}

	switch c.Kind {
	case ContractNormal:
		if c.Normal == nil {
			return fmt.Errorf("normal contract requires a (session, message) callback")
		}
		if c.RPC != nil || c.ResponseType != "" || c.NewResponse != nil {
			return fmt.Errorf("normal contract must not declare a response")
		}
		if _, dup := r.normal[c.Type]; dup {
			return fmt.Errorf("duplicate handler for message type %q, first registration kept", c.Type)
		}
		r.normal[c.Type] = c.Normal
		r.factories[c.Type] = c.New

	case ContractRPC:
		if c.RPC == nil {
			return fmt.Errorf("rpc contract requires a (session, request, response) callback")
		}
		if c.Normal != nil {
			return fmt.Errorf("rpc contract must not declare a normal callback")
		}
		if _, dup := r.rpc[c.Type]; dup {
			return fmt.Errorf("duplicate handler for request type %q, first registration kept", c.Type)
		}
		if err := r.registerPair(c); err != nil {
			return err
		}
		r.rpc[c.Type] = c.RPC

	case ContractPair:
		if c.Normal != nil || c.RPC != nil {
			return fmt.Errorf("pair contract must not declare a callback")
		}
		if err := r.registerPair(c); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown contract kind %d", c.Kind)
	}

	return nil
}

// registerPair indexes the request/response pairing and both factories.
// Re-declaring the same pairing is allowed (both sides of a connection may
// carry the same list); a conflicting pairing is not.
func (r *Registry) registerPair(c Candidate) error {
	if c.ResponseType == "" || c.NewResponse == nil {
		return fmt.Errorf("contract requires a paired response type and factory")
	}
	if existing, ok := r.catalog[c.Type]; ok && existing != c.ResponseType {
		return fmt.Errorf("request type %q already paired with response type %q", c.Type, existing)
	}

	r.catalog[c.Type] = c.ResponseType
	r.factories[c.Type] = c.New
	r.factories[c.ResponseType] = c.NewResponse
	return nil
}

// --------------------------------------------------------------------------
// Lookups
// --------------------------------------------------------------------------

// Normal returns the handler bound to a normal message type.
func (r *Registry) Normal(msgType string) (NormalHandler, bool) {
	h, ok := r.normal[msgType]
	return h, ok
}

// RPC returns the handler bound to a request type.
func (r *Registry) RPC(reqType string) (RPCHandler, bool) {
	h, ok := r.rpc[reqType]
	return h, ok
}

// ResponseType returns the one response type paired with a request type.
func (r *Registry) ResponseType(reqType string) (string, bool) {
	t, ok := r.catalog[reqType]
	return t, ok
}

// NewMessage constructs an empty concrete value for a registered type name.
func (r *Registry) NewMessage(msgType string) (any, bool) {
	factory, ok := r.factories[msgType]
	if !ok {
		return nil, false
	}
	return factory(), true
}
