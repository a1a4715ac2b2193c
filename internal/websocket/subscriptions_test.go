package websocket

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeConversationForwardsUpdates(t *testing.T) {
	r := newTestRelay(t)
	s, _ := r.connectAs(t, "validtoken")

	s.sendRaw(`{"type":"subscribe","data":{"type":"conversation","conversationId":"c1"}}`)
	assert.JSONEq(t, `{"type":"subscribed","data":{"type":"conversation","conversationId":"c1"}}`, expectFrame(t, s))

	require.Equal(t, 1, r.listeners.fire("conversation:c1", []string{"m1", "m2"}))
	assert.JSONEq(t,
		`{"type":"update","data":{"type":"messages","conversationId":"c1","data":["m1","m2"]}}`,
		expectFrame(t, s))
}

func TestSubscribeUserConversationsBindsToAuthenticatedUser(t *testing.T) {
	r := newTestRelay(t)
	s, _ := r.connectAs(t, "token-u2")

	s.sendRaw(`{"type":"subscribe","data":{"type":"userConversations","conversationId":"ignored"}}`)
	expectFrame(t, s)

	assert.Equal(t, 1, r.listeners.active("user:u2"))
	r.listeners.fire("user:u2", map[string]int{"count": 1})
	assert.JSONEq(t, `{"type":"update","data":{"type":"conversations","data":{"count":1}}}`, expectFrame(t, s))
}

func TestSubscribeValidation(t *testing.T) {
	r := newTestRelay(t)
	s, _ := r.connectAs(t, "validtoken")

	s.sendRaw(`{"type":"subscribe","data":{"type":"conversation"}}`)
	assert.JSONEq(t, errorFrame(ErrMsgConversationID), expectFrame(t, s))

	s.sendRaw(`{"type":"subscribe","data":{"type":"feed"}}`)
	assert.JSONEq(t, errorFrame(ErrMsgUnknownSubscription), expectFrame(t, s))

	s.sendRaw(`{"type":"subscribe"}`)
	assert.JSONEq(t, errorFrame(ErrMsgUnknownSubscription), expectFrame(t, s))

	assert.Equal(t, 0, r.listeners.created())
}

func TestResubscribeReplacesListener(t *testing.T) {
	r := newTestRelay(t)
	s, c := r.connectAs(t, "validtoken")
	topic := Topic{Type: TopicConversation, ConversationID: "c1"}

	subscribeFrame(t, s, topic)
	subscribeFrame(t, s, topic)

	assert.Equal(t, 2, r.listeners.created())
	assert.Equal(t, 1, r.listeners.active("conversation:c1"))
	assert.Equal(t, 1, r.ListenerCount())
	assert.Equal(t, []string{"conversation:c1"}, c.Subscriptions())

	// Even a callback from the replaced listener yields a single frame.
	r.listeners.fireLate("conversation:c1", "payload")
	expectFrame(t, s)
	expectNoFrame(t, s, 50*time.Millisecond)
}

func TestUnsubscribeStopsUpdates(t *testing.T) {
	r := newTestRelay(t)
	s, c := r.connectAs(t, "validtoken")
	subscribeFrame(t, s, Topic{Type: TopicConversation, ConversationID: "c1"})

	s.sendRaw(`{"type":"unsubscribe","data":{"type":"conversation","conversationId":"c1"}}`)
	assert.JSONEq(t, `{"type":"unsubscribed","data":{"type":"conversation","conversationId":"c1"}}`, expectFrame(t, s))

	assert.Equal(t, 0, r.listeners.active("conversation:c1"))
	assert.Equal(t, 0, r.ListenerCount())
	assert.Equal(t, 0, c.SubscriptionCount())

	r.listeners.fireLate("conversation:c1", "late")
	expectNoFrame(t, s, 50*time.Millisecond)
}

func TestUnsubscribeWithoutSubscriptionIsNoop(t *testing.T) {
	r := newTestRelay(t)
	s, _ := r.connectAs(t, "validtoken")

	s.sendRaw(`{"type":"unsubscribe","data":{"type":"userConversations"}}`)
	expectNoFrame(t, s, 50*time.Millisecond)
	assert.False(t, s.isClosed())
}

func TestListenerCreationFailure(t *testing.T) {
	r := newTestRelay(t)
	s, c := r.connectAs(t, "validtoken")
	r.listeners.setFail(errors.New("permission denied"))

	s.sendRaw(`{"type":"subscribe","data":{"type":"conversation","conversationId":"c1"}}`)
	assert.JSONEq(t, errorFrame(ErrMsgSubscribeFailed), expectFrame(t, s))
	assert.Equal(t, 0, c.SubscriptionCount())
	assert.Equal(t, 0, r.ListenerCount())
	assert.False(t, s.isClosed())

	r.listeners.setFail(nil)
	assert.JSONEq(t,
		`{"type":"subscribed","data":{"type":"conversation","conversationId":"c1"}}`,
		subscribeFrame(t, s, Topic{Type: TopicConversation, ConversationID: "c1"}))
	assert.Equal(t, 1, r.ListenerCount())
}

func TestSubscribeConversationRequiresParticipant(t *testing.T) {
	r := newTestRelay(t)
	r.listeners.setMembers("c1", "u2")
	s, c := r.connectAs(t, "validtoken")

	s.sendRaw(`{"type":"subscribe","data":{"type":"conversation","conversationId":"c1"}}`)
	assert.JSONEq(t, errorFrame(ErrMsgSubscribeFailed), expectFrame(t, s))
	assert.Equal(t, 0, r.listeners.created())
	assert.Equal(t, 0, c.SubscriptionCount())
	assert.Equal(t, 0, r.ListenerCount())

	s2, _ := r.connectAs(t, "token-u2")
	assert.Contains(t, subscribeFrame(t, s2, Topic{Type: TopicConversation, ConversationID: "c1"}), `"type":"subscribed"`)
	assert.Equal(t, 1, r.listeners.fire("conversation:c1", "private"))
	assert.Contains(t, expectFrame(t, s2), `"private"`)
	expectNoFrame(t, s, 50*time.Millisecond)
}

func TestUpdateAfterCloseIsDropped(t *testing.T) {
	r := newTestRelay(t)
	s, c := r.connectAs(t, "validtoken")
	subscribeFrame(t, s, Topic{Type: TopicUserConversations})

	require.NoError(t, s.Close())
	require.Eventually(t, func() bool { return c.SubscriptionCount() == 0 && c.IsClosed() }, time.Second, 5*time.Millisecond)

	assert.NotPanics(t, func() { r.listeners.fireLate("user:u1", "late") })
	assert.ErrorIs(t, c.Send(NewNotificationMessage("x")), ErrConnectionClosed)
}
