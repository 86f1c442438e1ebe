package ws

import (
	"log"
	"time"

	"github.com/atlaschat/chat-app/internal/metrics"
)

// startHeartbeat launches the background liveness sweep. Every
// HeartbeatInterval it pings all connections and evicts those with no
// activity within the deadline; the goroutine exits when the server's done
// channel is closed.
func (s *Server) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(s.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.sweepConnections()
			}
		}
	}()
}

// sweepConnections evicts every connection with no successful read within
// HeartbeatInterval + HeartbeatTimeout and sends a WebSocket-level ping
// frame (opcode 0x9) to the rest, which browsers answer automatically with
// a pong. Eviction goes through RemoveConnection, so room cleanup and the
// connections gauge follow the same path as any other close.
func (s *Server) sweepConnections() {
	deadline := s.config.HeartbeatInterval + s.config.HeartbeatTimeout
	now := time.Now()

	for _, c := range s.conns.All() {
		if now.Sub(c.LastPing) > deadline {
			metrics.HeartbeatTimeouts.Inc()
			log.Printf("ws: heartbeat timeout session=%s last_activity=%s ago",
				c.ID, now.Sub(c.LastPing).Round(time.Second))
			s.RemoveConnection(c)
			continue
		}

		// The connection's write mutex serializes the ping with any
		// concurrent application writes.
		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed session=%s: %v", c.ID, err)
			s.RemoveConnection(c)
		}
	}
}
