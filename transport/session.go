package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

var (
	// ErrPeerClosed is returned when the remote side closed the connection
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrSessionNotAlive is returned for sends on a disposed session
	ErrSessionNotAlive = errors.New("session is not alive")
)

var (
	framesSent       = metrics.GetOrCreateCounter(`duplex_frames_sent_total`)
	framesReceived   = metrics.GetOrCreateCounter(`duplex_frames_received_total`)
	bytesSent        = metrics.GetOrCreateCounter(`duplex_bytes_sent_total`)
	bytesReceived    = metrics.GetOrCreateCounter(`duplex_bytes_received_total`)
	sessionsDisposed = metrics.GetOrCreateCounter(`duplex_sessions_disposed_total`)
)

// nextSessionID numbers sessions for log correlation
var nextSessionID atomic.Uint64

// FrameHandler consumes one successfully decoded frame.
type FrameHandler func(s *Session, tag byte, payload []byte)

// CloseHook is invoked exactly once when a session is disposed. cause is nil
// for an explicit Close, otherwise it carries the fatal transport error.
type CloseHook func(s *Session, cause error)

// Session owns one stream connection. It serializes concurrent writers,
// tracks liveness and traffic timestamps, and runs the receive loop that
// feeds decoded frames to the dispatch layer.
//
// Any transport failure (short read, size mismatch, peer disconnect, body
// deadline, write fault) disposes the session: the socket is closed, the
// receive loop stops and all further sends fail with ErrSessionNotAlive.
type Session struct {
	id        uint64
	conn      net.Conn
	initiator bool

	alive    atomic.Bool
	lastSend atomic.Int64 // unix nanos of the last successful send
	lastRecv atomic.Int64 // unix nanos of the last decoded frame

	// writeMu serializes the encode+write step. Frames from concurrent
	// writers would otherwise interleave and corrupt the stream.
	writeMu sync.Mutex

	// writeTimeout bounds one frame write; a peer that stops reading must
	// not wedge every writer on the held mutex
	writeTimeout time.Duration

	// maxFrame caps the declared length of inbound frames
	maxFrame uint32

	disposeOnce sync.Once
	onClose     CloseHook
}

// NewSession wraps an established connection. initiator marks the dialing
// side; the accepting side is the responder.
func NewSession(conn net.Conn, initiator bool) *Session {
	s := &Session{
		id:           nextSessionID.Add(1),
		conn:         conn,
		initiator:    initiator,
		writeTimeout: DefaultWriteTimeout,
		maxFrame:     DefaultMaxFrameSize,
	}
	s.alive.Store(true)
	now := time.Now().UnixNano()
	s.lastSend.Store(now)
	s.lastRecv.Store(now)
	return s
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ID returns the process-local session number, used for log correlation.
func (s *Session) ID() uint64 { return s.id }

// Initiator reports whether this side dialed the connection.
func (s *Session) Initiator() bool { return s.initiator }

// Alive reports whether the session can still send.
func (s *Session) Alive() bool { return s.alive.Load() }

// LastSend returns the time of the last successful send.
func (s *Session) LastSend() time.Time { return time.Unix(0, s.lastSend.Load()) }

// LastReceive returns the time of the last successfully decoded frame.
func (s *Session) LastReceive() time.Time { return time.Unix(0, s.lastRecv.Load()) }

// RemoteAddr returns the remote address of the underlying connection.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// SetCloseHook registers the disposal callback. Must be set before the
// receive loop starts.
func (s *Session) SetCloseHook(hook CloseHook) { s.onClose = hook }

// SetWriteTimeout overrides the per-frame write deadline. Zero disables it.
// Must be set before the session is handed to concurrent writers.
func (s *Session) SetWriteTimeout(d time.Duration) { s.writeTimeout = d }

// SetMaxFrameSize overrides the inbound frame length cap. Must be set
// before the receive loop starts.
func (s *Session) SetMaxFrameSize(limit uint32) { s.maxFrame = limit }

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// Send builds one frame and writes it to the socket. A write fault disposes
// the session and is returned to the caller, never retried.
func (s *Session) Send(tag byte, payload []byte) error {
	if !s.alive.Load() {
		return ErrSessionNotAlive
	}

	s.writeMu.Lock()
	var err error
	if s.writeTimeout > 0 {
		err = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err == nil {
		err = writeFrame(s.conn, tag, payload)
	}
	s.writeMu.Unlock()

	if err != nil {
		s.dispose(err)
		return err
	}

	s.lastSend.Store(time.Now().UnixNano())
	framesSent.Inc()
	bytesSent.Add(lengthSize + 1 + len(payload))
	return nil
}

// --------------------------------------------------------------------------
// Receiving
// --------------------------------------------------------------------------

// ReadLoop reads and decodes frames until the session is disposed, handing
// each one to onFrame. It is run once per session, in its own goroutine.
// Closing the session closes the socket, which unblocks the pending read
// and terminates the loop.
func (s *Session) ReadLoop(onFrame FrameHandler) {
	for {
		tag, payload, err := readFrame(s.conn, s.maxFrame)
		if err != nil {
			if s.alive.Load() {
				if errors.Is(err, io.EOF) || errors.Is(err, ErrPeerClosed) {
					Logger.Infof("session %d: connection closed by peer", s.id)
				} else {
					Logger.Errorf("session %d: transport error: %v", s.id, err)
				}
			}
			s.dispose(err)
			return
		}

		s.lastRecv.Store(time.Now().UnixNano())
		framesReceived.Inc()
		bytesReceived.Add(lengthSize + 1 + len(payload))

		onFrame(s, tag, payload)
	}
}

// --------------------------------------------------------------------------
// Disposal
// --------------------------------------------------------------------------

// Close disposes the session explicitly. Safe to call more than once.
func (s *Session) Close() error {
	s.dispose(nil)
	return nil
}

// dispose tears the session down exactly once: clears the alive flag,
// closes the socket and notifies the close hook with the cause.
func (s *Session) dispose(cause error) {
	s.disposeOnce.Do(func() {
		s.alive.Store(false)
		_ = s.conn.Close()
		sessionsDisposed.Inc()

		if s.onClose != nil {
			s.onClose(s, cause)
		}
	})
}
