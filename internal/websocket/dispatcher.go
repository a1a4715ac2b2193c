package websocket

import (
	"context"
	"encoding/json"
)

// dispatch routes one client frame. It runs on the connection's read pump, so a
// frame is fully handled before the next one of the same connection is read.
func (r *Relay) dispatch(ctx context.Context, c *Connection, data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Debug("Failed to unmarshal message", "connectionID", c.ID(), "error", err)
		r.reply(c, NewErrorMessage(ErrMsgInvalidFormat))
		return
	}

	switch msg.Type {
	case MessageTypeAuthenticate:
		r.handleAuthenticate(ctx, c, msg.Data)
	case MessageTypeSubscribe:
		r.handleSubscribe(ctx, c, msg.Data)
	case MessageTypeUnsubscribe:
		r.handleUnsubscribe(c, msg.Data)
	default:
		r.logger.Debug("Unknown message type", "connectionID", c.ID(), "type", msg.Type)
		r.reply(c, NewErrorMessage(ErrMsgUnknownType))
	}
}

func (r *Relay) handleAuthenticate(ctx context.Context, c *Connection, raw json.RawMessage) {
	var data AuthenticateData
	if !decodeData(raw, &data) {
		r.reply(c, NewErrorMessage(ErrMsgInvalidFormat))
		return
	}
	if data.Token == "" {
		r.reply(c, NewErrorMessage(ErrMsgTokenRequired))
		return
	}

	verifyCtx, cancel := context.WithTimeout(ctx, r.cfg.WriteWait)
	userID, err := r.deps.Verifier.VerifyToken(verifyCtx, data.Token)
	cancel()
	if err != nil {
		r.logger.Info("Authentication failed", "connectionID", c.ID(), "error", err)
		r.reply(c, NewErrorMessage(ErrMsgAuthFailed))
		return
	}

	// Switching users must not leave the previous user's listeners attached.
	if current := c.UserID(); current != "" && current != userID {
		for _, sub := range c.drainSubscriptions() {
			r.release(sub)
		}
		if r.registry.Unregister(c) {
			r.setOffline(current)
		}
	}

	if previous := r.registry.Register(userID, c); previous != nil {
		r.logger.Info("Connection replaced for user", "userID", userID, "previousConnectionID", previous.ID())
	}
	r.setOnline(userID)

	r.logger.Info("Client registered", "connectionID", c.ID(), "userID", userID)
	r.reply(c, NewAuthenticatedMessage(userID))
}

// decodeData unmarshals an optional data payload. Absent data decodes to the zero value.
func decodeData(raw json.RawMessage, v any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	return json.Unmarshal(raw, v) == nil
}

func (r *Relay) reply(c *Connection, msg *OutboundMessage) {
	if err := c.Send(msg); err != nil {
		r.logger.Debug("Dropped frame", "connectionID", c.ID(), "type", msg.Type, "error", err)
	}
}
