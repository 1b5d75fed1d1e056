package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/duplexio/duplex/common"
)

// frameCollector accumulates decoded frames for assertions
type frameCollector struct {
	mu     sync.Mutex
	frames []struct {
		tag     byte
		payload []byte
	}
	notify chan struct{}
}

func newFrameCollector() *frameCollector {
	return &frameCollector{notify: make(chan struct{}, 16)}
}

func (c *frameCollector) handle(_ *Session, tag byte, payload []byte) {
	c.mu.Lock()
	c.frames = append(c.frames, struct {
		tag     byte
		payload []byte
	}{tag, append([]byte(nil), payload...)})
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *frameCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// TestFrameRoundTrip tests that tag and payload survive the wire unchanged
func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		tag     byte
		payload []byte
	}{
		{"normal frame", common.TagNormal, []byte(`{"type":"notify"}`)},
		{"rpc frame", common.TagRPC, []byte{0x01, 0x00, 0xff}},
		{"empty payload", common.TagRPC, nil},
		{"large payload", common.TagNormal, bytes.Repeat([]byte{0xab}, 64*1024)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			writeErr := make(chan error, 1)
			go func() {
				writeErr <- writeFrame(clientConn, tc.tag, tc.payload)
			}()

			tag, payload, err := readFrame(serverConn, DefaultMaxFrameSize)
			if err != nil {
				t.Fatalf("readFrame failed: %v", err)
			}
			if err := <-writeErr; err != nil {
				t.Errorf("writeFrame failed: %v", err)
			}
			if tag != tc.tag {
				t.Errorf("tag mismatch: sent %d, received %d", tc.tag, tag)
			}
			if !bytes.Equal(payload, tc.payload) {
				t.Errorf("payload mismatch: sent %d bytes, received %d bytes", len(tc.payload), len(payload))
			}
		})
	}
}

// TestSessionSendReceive tests the full session path from Send to the
// frame handler on the other side
func TestSessionSendReceive(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	sender := NewSession(clientConn, true)
	receiver := NewSession(serverConn, false)
	defer sender.Close()
	defer receiver.Close()

	collector := newFrameCollector()
	go receiver.ReadLoop(collector.handle)

	payload := []byte(`{"role":"request","id":1}`)
	if err := sender.Send(common.TagRPC, payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case <-collector.notify:
	case <-time.After(time.Second):
		t.Fatal("frame did not arrive")
	}

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if collector.frames[0].tag != common.TagRPC {
		t.Errorf("tag mismatch: got %d", collector.frames[0].tag)
	}
	if !bytes.Equal(collector.frames[0].payload, payload) {
		t.Errorf("payload mismatch")
	}
}

// TestShortBodyDisposesSession tests that a frame declaring more body bytes
// than the peer delivers tears the session down without any partial frame
// reaching the handler
func TestShortBodyDisposesSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	receiver := NewSession(serverConn, false)

	disposed := make(chan error, 1)
	receiver.SetCloseHook(func(_ *Session, cause error) {
		disposed <- cause
	})

	collector := newFrameCollector()
	loopDone := make(chan struct{})
	go func() {
		receiver.ReadLoop(collector.handle)
		close(loopDone)
	}()

	// Declare a 10 byte body but deliver only 4, then disconnect
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, 10)
	if _, err := clientConn.Write(header); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	if _, err := clientConn.Write([]byte{common.TagNormal, 1, 2, 3}); err != nil {
		t.Fatalf("failed to write partial body: %v", err)
	}
	clientConn.Close()

	select {
	case cause := <-disposed:
		if cause == nil {
			t.Error("expected a transport error cause, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("session was not disposed")
	}

	select {
	case <-loopDone:
	case <-time.After(time.Second):
		t.Fatal("receive loop did not exit")
	}

	if receiver.Alive() {
		t.Error("session still alive after transport error")
	}
	if collector.count() != 0 {
		t.Errorf("partial frame reached the handler: %d frames", collector.count())
	}
}

// TestSendAfterDispose tests that the alive flag strictly gates sends
func TestSendAfterDispose(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	s := NewSession(clientConn, true)
	_ = s.Close()

	if err := s.Send(common.TagNormal, []byte("late")); !errors.Is(err, ErrSessionNotAlive) {
		t.Errorf("expected ErrSessionNotAlive, got %v", err)
	}
}

// TestPeerDisconnectDuringPrefix tests that a clean disconnect while
// waiting for the next length prefix terminates the loop
func TestPeerDisconnectDuringPrefix(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	receiver := NewSession(serverConn, false)

	loopDone := make(chan struct{})
	go func() {
		receiver.ReadLoop(func(*Session, byte, []byte) {})
		close(loopDone)
	}()

	clientConn.Close()

	select {
	case <-loopDone:
	case <-time.After(time.Second):
		t.Fatal("receive loop did not exit on peer disconnect")
	}
	if receiver.Alive() {
		t.Error("session still alive after peer disconnect")
	}
}

// TestSendWriteTimeout tests that a peer that stops reading fails the send
// with a transport error instead of blocking the writer forever
func TestSendWriteTimeout(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	// Nobody ever reads serverConn, so the write can only end by deadline
	s := NewSession(clientConn, true)
	s.SetWriteTimeout(50 * time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Send(common.TagNormal, bytes.Repeat([]byte{0x01}, 128))
	}()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a write timeout error, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not return after the write deadline")
	}

	if s.Alive() {
		t.Error("session still alive after write fault")
	}
}

// TestStalledBodyDisposesSession tests that a peer delivering a length
// prefix but stalling mid-body trips the body deadline and tears the
// session down
func TestStalledBodyDisposesSession(t *testing.T) {
	saved := bodyReadTimeout
	bodyReadTimeout = 100 * time.Millisecond
	defer func() { bodyReadTimeout = saved }()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	receiver := NewSession(serverConn, false)

	disposed := make(chan error, 1)
	receiver.SetCloseHook(func(_ *Session, cause error) {
		disposed <- cause
	})
	go receiver.ReadLoop(func(*Session, byte, []byte) {
		t.Error("stalled frame reached the handler")
	})

	// Declare a 10 byte body, deliver 4, then stall without disconnecting
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, 10)
	if _, err := clientConn.Write(header); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	if _, err := clientConn.Write([]byte{common.TagNormal, 1, 2, 3}); err != nil {
		t.Fatalf("failed to write partial body: %v", err)
	}

	select {
	case cause := <-disposed:
		if cause == nil {
			t.Error("expected a transport error cause, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stalled body did not dispose the session")
	}
	if receiver.Alive() {
		t.Error("session still alive after body deadline expiry")
	}
}

// TestOversizedFrameDisposesSession tests that a declared length above the
// frame cap tears the connection down before any body is read
func TestOversizedFrameDisposesSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	receiver := NewSession(serverConn, false)
	receiver.SetMaxFrameSize(1024)

	disposed := make(chan error, 1)
	receiver.SetCloseHook(func(_ *Session, cause error) {
		disposed <- cause
	})
	go receiver.ReadLoop(func(*Session, byte, []byte) {
		t.Error("oversized frame reached the handler")
	})

	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, 1<<20)
	if _, err := clientConn.Write(header); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}

	select {
	case cause := <-disposed:
		if cause == nil {
			t.Error("expected a transport error cause, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("oversized frame did not dispose the session")
	}
	if receiver.Alive() {
		t.Error("session still alive after oversized frame")
	}
}

// TestCloseHookFiresOnce tests that disposal runs exactly once even when
// close and transport error race
func TestCloseHookFiresOnce(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	s := NewSession(serverConn, false)

	var calls int
	var mu sync.Mutex
	s.SetCloseHook(func(*Session, error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		s.ReadLoop(func(*Session, byte, []byte) {})
		close(done)
	}()

	_ = s.Close()
	_ = s.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receive loop did not exit")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("close hook ran %d times, want 1", calls)
	}
}
