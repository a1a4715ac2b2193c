package websocket

import (
	"context"
	"time"
)

func (r *Relay) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.heartbeat()
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		}
	}
}

// heartbeat terminates connections that did not answer the previous ping and
// pings the rest. A socket thus gets one full interval to reply.
func (r *Relay) heartbeat() {
	for _, c := range r.registry.Connections() {
		if c.IsClosed() {
			continue
		}
		if !c.alive.Swap(false) {
			r.logger.Info("Terminating unresponsive connection", "connectionID", c.ID(), "userID", c.UserID())
			c.terminate()
			continue
		}
		if err := c.ping(r.cfg.WriteWait); err != nil {
			r.logger.Debug("Failed to send ping", "connectionID", c.ID(), "error", err)
		}
	}
}
