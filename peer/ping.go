package peer

import (
	"context"
	"time"

	"github.com/duplexio/duplex/transport"
)

// PingLoop periodically probes the session with the built-in ping pair and
// disposes it after a failed probe, detecting silent disconnects. It owns
// its own scheduling; the router never issues probes itself. The loop exits
// when ctx is cancelled, the session dies, or a probe fails.
//
// Run it in its own goroutine:
//
//	go p.PingLoop(ctx, s, 30*time.Second)
func (p *Peer) PingLoop(ctx context.Context, s *transport.Session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !s.Alive() {
			return
		}

		call, err := p.Ping(s, interval)
		if err != nil {
			Logger.Warningf("session %d: failed to send liveness probe: %v", s.ID(), err)
			return
		}

		if _, err := call.Await(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			Logger.Warningf("session %d: liveness probe failed, disposing session: %v", s.ID(), err)
			_ = s.Close()
			return
		}
	}
}
