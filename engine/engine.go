// Package engine implements the RPC correlation engine: it allocates call
// ids, tracks pending calls and resolves each of them exactly once, either
// with the matching response or with a timeout.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/duplexio/duplex/codec"
	"github.com/duplexio/duplex/common"
	"github.com/duplexio/duplex/registry"
	"github.com/duplexio/duplex/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("engine")

// TimeoutFloor is the minimum effective call timeout. Calls requesting less
// still wait at least this long before failing.
const TimeoutFloor = 5000 * time.Millisecond

var (
	callsIssued      = metrics.GetOrCreateCounter(`duplex_calls_issued_total`)
	callsTimedOut    = metrics.GetOrCreateCounter(`duplex_calls_timed_out_total`)
	responsesDropped = metrics.GetOrCreateCounter(`duplex_responses_dropped_total`)
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrCallTimeout resolves a pending call whose deadline expired. It has
	// no effect on the connection or on other calls.
	ErrCallTimeout = errors.New("call timed out")

	// ErrSessionClosed resolves the pending calls of a session that was
	// disposed before their responses arrived.
	ErrSessionClosed = errors.New("session closed with call pending")
)

// TypeMismatchError is a caller-side programming error: the expected
// response type does not match the catalog pairing of the request type.
// It is raised synchronously, before any network I/O.
type TypeMismatchError struct {
	RequestType string
	Expected    string
	Catalog     string
}

func (e *TypeMismatchError) Error() string {
	if e.Catalog == "" {
		return fmt.Sprintf("request type %q has no response pairing in the catalog", e.RequestType)
	}
	return fmt.Sprintf("request type %q is paired with response type %q, not %q",
		e.RequestType, e.Catalog, e.Expected)
}

// RemoteError is an application failure reported by the remote handler via
// the error field of a response.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Msg)
}

// --------------------------------------------------------------------------
// Call handle
// --------------------------------------------------------------------------

// Result is the outcome of a completed call: a decoded response value or
// one of the per-call failures (timeout, remote error, session closed).
type Result struct {
	Value any
	Err   error
}

// Call is the handle of one in-flight RPC call. It completes exactly once.
type Call struct {
	id   uint32
	done chan Result
}

// ID returns the correlation id assigned to this call.
func (c *Call) ID() uint32 { return c.id }

// Done returns the channel the single result is delivered on.
func (c *Call) Done() <-chan Result { return c.done }

// Await blocks until the call completes or ctx is cancelled.
func (c *Call) Await(ctx context.Context) (any, error) {
	select {
	case res := <-c.done:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pendingCall is the bookkeeping entry of one in-flight call
type pendingCall struct {
	id      uint32
	session *transport.Session
	done    chan Result
	timer   *time.Timer

	// ping marks a liveness probe: its reply carries no type and no body,
	// so resolution must not attempt to decode one
	ping bool
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine tracks all pending calls of a process. Removal from the pending
// table is the completion arbiter: whichever path (response, timeout,
// session disposal) removes the entry delivers the one and only result.
type Engine struct {
	codec   codec.Codec
	reg     *registry.Registry
	nextID  atomic.Uint32
	pending *xsync.MapOf[uint32, *pendingCall]
}

// New creates a correlation engine backed by the given codec and catalog.
func New(cdc codec.Codec, reg *registry.Registry) *Engine {
	return &Engine{
		codec:   cdc,
		reg:     reg,
		pending: xsync.NewMapOf[uint32, *pendingCall](),
	}
}

// allocID returns the next call id. The counter wraps from the maximum
// uint32 back to zero; ids still pending are skipped, never reassigned.
func (e *Engine) allocID() uint32 {
	for {
		id := e.nextID.Add(1)
		if _, busy := e.pending.Load(id); !busy {
			return id
		}
	}
}

// Call validates, stamps and sends one request over the session and records
// the pending call. The returned handle completes exactly once: with the
// matching response, a remote error, a timeout after max(timeout,
// TimeoutFloor), or a session-closed failure if the session is disposed
// while the call is in flight.
func (e *Engine) Call(s *transport.Session, reqType string, req any, expectedResponseType string, timeout time.Duration) (*Call, error) {
	// Catalog validation happens before any network I/O
	catalogType, ok := e.reg.ResponseType(reqType)
	if !ok {
		return nil, &TypeMismatchError{RequestType: reqType, Expected: expectedResponseType}
	}
	if catalogType != expectedResponseType {
		return nil, &TypeMismatchError{RequestType: reqType, Expected: expectedResponseType, Catalog: catalogType}
	}

	body, err := e.codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	env := common.NewRequest(reqType, body)
	return e.issue(s, env, timeout)
}

// Ping issues the built-in payload-less liveness probe. It bypasses the
// catalog since the ping pair is part of the protocol itself.
func (e *Engine) Ping(s *transport.Session, timeout time.Duration) (*Call, error) {
	return e.issue(s, common.NewPing(0), timeout)
}

// issue assigns the id, records the pending call, arms its timer and writes
// the frame. On a send fault the entry is removed again and the fault is
// returned directly, no handle is handed out.
func (e *Engine) issue(s *transport.Session, env *common.Envelope, timeout time.Duration) (*Call, error) {
	env.ID = e.allocID()

	payload, err := e.codec.EncodeEnvelope(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	if timeout < TimeoutFloor {
		timeout = TimeoutFloor
	}

	pc := &pendingCall{
		id:      env.ID,
		session: s,
		done:    make(chan Result, 1),
		ping:    env.Role == common.RolePing,
	}
	e.pending.Store(pc.id, pc)

	// Independent per-call timer; a no-op if the call resolved first
	pc.timer = time.AfterFunc(timeout, func() { e.expire(pc.id) })

	if err := s.Send(env.Tag(), payload); err != nil {
		if p, ok := e.pending.LoadAndDelete(pc.id); ok {
			p.timer.Stop()
		}
		return nil, err
	}

	callsIssued.Inc()
	return &Call{id: pc.id, done: pc.done}, nil
}

// Resolve delivers an inbound response to its pending call. Responses whose
// id matches no pending call (late, duplicate or unknown) are dropped with
// a diagnostic and nothing else.
func (e *Engine) Resolve(env *common.Envelope) {
	pc, ok := e.pending.LoadAndDelete(env.ID)
	if !ok {
		responsesDropped.Inc()
		Logger.Debugf("dropping response for unknown call id %d (type %q)", env.ID, env.Type)
		return
	}
	pc.timer.Stop()

	if env.Err != "" {
		pc.done <- Result{Err: &RemoteError{Msg: env.Err}}
		return
	}

	// Probe replies carry no body; what the call was, not what the reply
	// claims to be, decides this
	if pc.ping {
		pc.done <- Result{}
		return
	}

	value, ok := e.reg.NewMessage(env.Type)
	if !ok {
		pc.done <- Result{Err: fmt.Errorf("response carries unregistered type %q", env.Type)}
		return
	}
	if err := e.codec.Unmarshal(env.Body, value); err != nil {
		pc.done <- Result{Err: fmt.Errorf("failed to decode response body: %w", err)}
		return
	}

	pc.done <- Result{Value: value}
}

// expire resolves one pending call as timed out. A no-op if the call
// already resolved.
func (e *Engine) expire(id uint32) {
	pc, ok := e.pending.LoadAndDelete(id)
	if !ok {
		return
	}
	callsTimedOut.Inc()
	Logger.Warningf("call %d timed out", id)
	pc.done <- Result{Err: ErrCallTimeout}
}

// AbortSession fails all pending calls issued over the given session
// immediately. Their timers become no-ops.
func (e *Engine) AbortSession(s *transport.Session) {
	e.pending.Range(func(id uint32, pc *pendingCall) bool {
		if pc.session != s {
			return true
		}
		if p, ok := e.pending.LoadAndDelete(id); ok {
			p.timer.Stop()
			p.done <- Result{Err: ErrSessionClosed}
		}
		return true
	})
}

// PendingCount returns the number of calls currently in flight.
func (e *Engine) PendingCount() int {
	return e.pending.Size()
}
