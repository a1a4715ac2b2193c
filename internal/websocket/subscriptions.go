package websocket

import (
	"context"
	"encoding/json"
)

func (r *Relay) handleSubscribe(ctx context.Context, c *Connection, raw json.RawMessage) {
	userID, ok := r.registry.Find(c)
	if !ok {
		r.reply(c, NewErrorMessage(ErrMsgNotAuthenticated))
		return
	}

	topic, ok := r.decodeTopic(c, raw)
	if !ok {
		return
	}

	if err := r.subscribe(ctx, c, userID, topic); err != nil {
		r.logger.Warn("Failed to create listener", "userID", userID, "topic", topic.Key(), "error", err)
		r.reply(c, NewErrorMessage(ErrMsgSubscribeFailed))
		return
	}

	r.logger.Debug("Client subscribed", "userID", userID, "topic", topic.Key())
	r.reply(c, NewSubscribedMessage(topic))
}

// handleUnsubscribe cancels the listener for the topic. When one was removed the
// client gets an "unsubscribed" frame echoing the topic; clients may ignore it.
// Unsubscribing from a topic that has no listener sends nothing.
func (r *Relay) handleUnsubscribe(c *Connection, raw json.RawMessage) {
	userID, ok := r.registry.Find(c)
	if !ok {
		r.reply(c, NewErrorMessage(ErrMsgNotAuthenticated))
		return
	}

	topic, ok := r.decodeTopic(c, raw)
	if !ok {
		return
	}

	sub := c.removeSubscription(topic.Key())
	if sub == nil {
		return
	}
	r.release(sub)

	r.logger.Debug("Client unsubscribed", "userID", userID, "topic", topic.Key())
	r.reply(c, NewUnsubscribedMessage(topic))
}

func (r *Relay) decodeTopic(c *Connection, raw json.RawMessage) (Topic, bool) {
	var topic Topic
	if !decodeData(raw, &topic) {
		r.reply(c, NewErrorMessage(ErrMsgInvalidFormat))
		return topic, false
	}
	if msg := topic.Validate(); msg != "" {
		r.reply(c, NewErrorMessage(msg))
		return topic, false
	}
	if topic.Type == TopicUserConversations {
		topic.ConversationID = ""
	}
	return topic, true
}

// subscribe attaches one listener for topic, replacing any listener the
// connection already holds for the same key.
func (r *Relay) subscribe(ctx context.Context, c *Connection, userID string, topic Topic) error {
	sub, previous := c.reserveSubscription(topic)
	if previous != nil {
		r.release(previous)
	}

	key := topic.Key()
	onUpdate := func(data any) {
		// Drops callbacks that arrive after the subscription was cancelled or replaced.
		if !c.isCurrent(key, sub.generation) {
			return
		}
		if err := c.Send(NewUpdateMessage(topic, data)); err != nil {
			r.logger.Debug("Dropped update", "connectionID", c.ID(), "topic", key, "error", err)
		}
	}

	var cancel CancelFunc
	var err error
	switch topic.Type {
	case TopicConversation:
		cancel, err = r.deps.Conversations.ListenConversation(ctx, userID, topic.ConversationID, onUpdate)
	case TopicUserConversations:
		cancel, err = r.deps.UserConversations.ListenUserConversations(ctx, userID, onUpdate)
	}
	if err != nil {
		c.withdrawSubscription(sub)
		return err
	}

	r.listeners.Add(1)
	if !c.bindSubscription(sub, cancel) {
		r.release(&subscription{topic: topic, cancel: cancel})
	}
	return nil
}

// release cancels the listener behind sub.
func (r *Relay) release(sub *subscription) {
	if sub.cancel == nil {
		return
	}
	sub.cancel()
	r.listeners.Add(-1)
}
