package peer

import (
	"context"
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/duplexio/duplex/codec"
	"github.com/duplexio/duplex/common"
	"github.com/duplexio/duplex/engine"
	"github.com/duplexio/duplex/registry"
	"github.com/duplexio/duplex/transport"
)

var framesDropped = metrics.GetOrCreateCounter(`duplex_frames_dropped_total`)

// Router classifies every decoded frame and routes it to the correlation
// engine (responses) or the handler registry (requests and normal
// messages). Handler invocation is scheduled onto the shared executor,
// never run on the connection read loop.
type Router struct {
	ctx   context.Context
	codec codec.Codec
	reg   *registry.Registry
	eng   *engine.Engine
	exec  *Executor
}

// NewRouter wires a router to its collaborators. ctx is handed to RPC
// handlers and cancelled when the owning peer shuts down.
func NewRouter(ctx context.Context, cdc codec.Codec, reg *registry.Registry, eng *engine.Engine, exec *Executor) *Router {
	return &Router{
		ctx:   ctx,
		codec: cdc,
		reg:   reg,
		eng:   eng,
		exec:  exec,
	}
}

// HandleFrame consumes one decoded frame from a session's receive loop.
// Classification failures are never fatal to the connection: unrecognized
// tags and undecodable envelopes are dropped with a diagnostic.
func (r *Router) HandleFrame(s *transport.Session, tag byte, payload []byte) {
	switch tag {
	case common.TagNormal:
		r.handleNormal(s, payload)
	case common.TagRPC:
		r.handleRPC(s, payload)
	default:
		framesDropped.Inc()
		Logger.Warningf("session %d: dropping frame with unrecognized tag %d", s.ID(), tag)
	}
}

// handleNormal delivers a fire-and-forget message to its handler.
func (r *Router) handleNormal(s *transport.Session, payload []byte) {
	var env common.Envelope
	if err := r.codec.DecodeEnvelope(payload, &env); err != nil {
		framesDropped.Inc()
		Logger.Warningf("session %d: dropping undecodable normal frame: %v", s.ID(), err)
		return
	}

	handler, ok := r.reg.Normal(env.Type)
	if !ok {
		framesDropped.Inc()
		Logger.Warningf("session %d: no handler registered for message type %q", s.ID(), env.Type)
		return
	}

	msg, ok := r.reg.NewMessage(env.Type)
	if !ok {
		framesDropped.Inc()
		Logger.Warningf("session %d: no factory registered for message type %q", s.ID(), env.Type)
		return
	}
	if err := r.codec.Unmarshal(env.Body, msg); err != nil {
		framesDropped.Inc()
		Logger.Warningf("session %d: dropping undecodable %q message: %v", s.ID(), env.Type, err)
		return
	}

	r.exec.Submit(func() {
		handler(s, msg)
	})
}

// handleRPC routes an RPC frame by its payload role. The ping role always
// marks an inbound probe; its reply travels as a payload-less response, so
// both sides may probe concurrently and a probe id can never resolve an
// unrelated pending call of the receiver.
func (r *Router) handleRPC(s *transport.Session, payload []byte) {
	var env common.Envelope
	if err := r.codec.DecodeEnvelope(payload, &env); err != nil {
		framesDropped.Inc()
		Logger.Warningf("session %d: dropping undecodable rpc frame: %v", s.ID(), err)
		return
	}

	switch env.Role {
	case common.RoleResponse:
		r.eng.Resolve(&env)

	case common.RolePing:
		r.replyPing(s, env.ID)

	case common.RoleRequest:
		r.handleRequest(s, &env)

	default:
		framesDropped.Inc()
		Logger.Warningf("session %d: dropping rpc frame with unexpected role %s", s.ID(), env.Role)
	}
}

// replyPing answers an inbound liveness probe with the same id.
func (r *Router) replyPing(s *transport.Session, id uint32) {
	payload, err := r.codec.EncodeEnvelope(common.NewPingReply(id))
	if err != nil {
		Logger.Errorf("session %d: failed to encode ping reply: %v", s.ID(), err)
		return
	}
	if err := s.Send(common.TagRPC, payload); err != nil {
		Logger.Warningf("session %d: failed to send ping reply: %v", s.ID(), err)
	}
}

// handleRequest schedules the RPC handler and sends back exactly one
// response carrying the originating call id. An unmapped request type
// yields a synthesized error response; the connection survives.
func (r *Router) handleRequest(s *transport.Session, env *common.Envelope) {
	handler, ok := r.reg.RPC(env.Type)
	if !ok {
		respType, _ := r.reg.ResponseType(env.Type)
		r.sendError(s, respType, env.ID, fmt.Sprintf("no handler registered for request type %q", env.Type))
		return
	}

	// The rpc contract guarantees factories and pairing exist
	respType, _ := r.reg.ResponseType(env.Type)

	req, ok := r.reg.NewMessage(env.Type)
	if !ok {
		r.sendError(s, respType, env.ID, fmt.Sprintf("no factory registered for request type %q", env.Type))
		return
	}
	if err := r.codec.Unmarshal(env.Body, req); err != nil {
		r.sendError(s, respType, env.ID, fmt.Sprintf("failed to decode request body: %v", err))
		return
	}

	resp, ok := r.reg.NewMessage(respType)
	if !ok {
		r.sendError(s, respType, env.ID, fmt.Sprintf("no factory registered for response type %q", respType))
		return
	}

	// The response identity is fixed here, before the handler runs
	id := env.ID

	r.exec.Submit(func() {
		if err := handler(r.ctx, s, req, resp); err != nil {
			r.sendError(s, respType, id, err.Error())
			return
		}

		body, err := r.codec.Marshal(resp)
		if err != nil {
			r.sendError(s, respType, id, fmt.Sprintf("failed to encode response body: %v", err))
			return
		}

		r.sendResponse(s, common.NewResponse(respType, id, body))
	})
}

// sendError synthesizes an error response with the originating call id.
func (r *Router) sendError(s *transport.Session, respType string, id uint32, diagnostic string) {
	Logger.Warningf("session %d: call %d failed: %s", s.ID(), id, diagnostic)
	r.sendResponse(s, common.NewErrorResponse(respType, id, diagnostic))
}

// sendResponse encodes and writes one response envelope. Send faults are
// handled by the session itself (disposal); they are only logged here.
func (r *Router) sendResponse(s *transport.Session, env *common.Envelope) {
	payload, err := r.codec.EncodeEnvelope(env)
	if err != nil {
		Logger.Errorf("session %d: failed to encode response envelope: %v", s.ID(), err)
		return
	}
	if err := s.Send(common.TagRPC, payload); err != nil {
		Logger.Warningf("session %d: failed to send response for call %d: %v", s.ID(), env.ID, err)
	}
}
