package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/duplexio/duplex/codec"
	"github.com/duplexio/duplex/common"
	"github.com/duplexio/duplex/engine"
	"github.com/duplexio/duplex/registry"
	"github.com/duplexio/duplex/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("peer")

// Peer is one endpoint of the transport. The same peer can listen for
// inbound connections, dial outbound ones, or both; every session is fully
// bidirectional, so calls and messages flow both ways regardless of who
// connected to whom.
type Peer struct {
	config common.PeerConfig
	codec  codec.Codec
	reg    *registry.Registry
	eng    *engine.Engine
	exec   *Executor
	router *Router

	sessions *xsync.MapOf[uint64, *transport.Session]
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a peer from its configuration, codec and handler registry.
// The shared handler executor is started immediately.
//
// Usage:
//
//	p := peer.New(config, codec.NewBinaryCodec(), registry.New(candidates))
//	defer p.Close()
//
//	s, err := p.Dial("localhost:7070")
//	call, err := p.Call(s, "echo", req, "echo.response", 5*time.Second)
func New(config common.PeerConfig, cdc codec.Codec, reg *registry.Registry) *Peer {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	common.InitLoggers(config.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())

	p := &Peer{
		config:   config,
		codec:    cdc,
		reg:      reg,
		eng:      engine.New(cdc, reg),
		exec:     NewExecutor(),
		sessions: xsync.NewMapOf[uint64, *transport.Session](),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.router = NewRouter(ctx, cdc, reg, p.eng, p.exec)
	p.exec.Start()

	Logger.Infof("created peer")
	Logger.Infof(config.String())

	return p
}

// --------------------------------------------------------------------------
// Connection management
// --------------------------------------------------------------------------

// Listen accepts connections on the configured endpoint until the peer is
// closed. Accepted sessions are responder-side sessions.
func (p *Peer) Listen() error {
	listener, err := transport.Listen(p.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	p.listener = listener

	Logger.Infof("listening on %s", p.config.Endpoint)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-p.ctx.Done():
				return nil
			default:
			}
			Logger.Errorf("accept error: %v", err)
			continue
		}

		if err := transport.UpgradeConnection(conn, p.config.Transport); err != nil {
			Logger.Errorf("failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			_ = conn.Close()
			continue
		}

		s := p.adopt(conn, false)
		Logger.Infof("session %d: accepted connection from %s", s.ID(), conn.RemoteAddr())
	}
}

// Dial connects to the given endpoint and returns the initiator-side
// session.
func (p *Peer) Dial(endpoint string) (*transport.Session, error) {
	conn, err := transport.Dial(endpoint, p.config.Transport)
	if err != nil {
		return nil, err
	}

	s := p.adopt(conn, true)
	Logger.Infof("session %d: connected to %s", s.ID(), endpoint)
	return s, nil
}

// Adopt wraps an already established connection (e.g. a pipe in tests) in
// a session owned by this peer.
func (p *Peer) Adopt(conn net.Conn, initiator bool) *transport.Session {
	return p.adopt(conn, initiator)
}

// adopt creates the session, registers the disposal hook and starts the
// receive loop.
func (p *Peer) adopt(conn net.Conn, initiator bool) *transport.Session {
	s := transport.NewSession(conn, initiator)

	if p.config.TimeoutSecond > 0 {
		s.SetWriteTimeout(time.Duration(p.config.TimeoutSecond) * time.Second)
	}
	if p.config.Transport.MaxFrameBytes > 0 {
		s.SetMaxFrameSize(p.config.Transport.MaxFrameBytes)
	}

	s.SetCloseHook(func(s *transport.Session, cause error) {
		p.sessions.Delete(s.ID())
		// Stricter policy than waiting for per-call timers: a disposed
		// session fails all of its in-flight calls right away
		p.eng.AbortSession(s)

		if cause != nil {
			Logger.Infof("session %d: disposed: %v", s.ID(), cause)
		} else {
			Logger.Infof("session %d: closed", s.ID())
		}
	})

	p.sessions.Store(s.ID(), s)
	go s.ReadLoop(p.router.HandleFrame)
	return s
}

// SessionCount returns the number of live sessions owned by this peer.
func (p *Peer) SessionCount() int {
	return p.sessions.Size()
}

// --------------------------------------------------------------------------
// Messaging
// --------------------------------------------------------------------------

// Send delivers a fire-and-forget message over the session. The sender
// receives no asynchronous failure signal beyond local pre-send errors.
func (p *Peer) Send(s *transport.Session, msgType string, msg any) error {
	body, err := p.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message body: %w", err)
	}

	env := common.NewNormal(msgType, body)
	payload, err := p.codec.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	return s.Send(env.Tag(), payload)
}

// Call issues a correlated request over the session. expectedResponseType
// is validated against the catalog before anything is sent; the returned
// handle completes exactly once.
func (p *Peer) Call(s *transport.Session, reqType string, req any, expectedResponseType string, timeout time.Duration) (*engine.Call, error) {
	return p.eng.Call(s, reqType, req, expectedResponseType, timeout)
}

// Ping issues the built-in liveness probe over the session.
func (p *Peer) Ping(s *transport.Session, timeout time.Duration) (*engine.Call, error) {
	return p.eng.Ping(s, timeout)
}

// Engine exposes the correlation engine, mainly for inspection in tests.
func (p *Peer) Engine() *engine.Engine { return p.eng }

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close shuts the peer down: stops accepting, disposes all sessions (which
// fails their pending calls) and stops the handler executor.
func (p *Peer) Close() error {
	p.cancel()

	var err error
	if p.listener != nil {
		if cerr := p.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	p.sessions.Range(func(_ uint64, s *transport.Session) bool {
		_ = s.Close()
		return true
	})

	p.exec.Stop()
	return err
}
