package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcastStatusDeliversToSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeStatus("u1")
	defer unsub()

	b.BroadcastStatus("u1", NewBotStatusUpdate("bot-1", "running"))
	msg := <-ch
	require.Equal(t, "bot_status_update", msg.Type)
	require.Equal(t, "bot-1", msg.BotID)
	require.Equal(t, "running", msg.Status)
}

func TestBroadcastStatusNoSubscriberIsNoop(t *testing.T) {
	b := New()
	require.NotPanics(t, func() {
		b.BroadcastStatus("ghost", NewBotStatusUpdate("bot-1", "running"))
	})
}

func TestBroadcastStatusAfterUnsubscribeIsNoop(t *testing.T) {
	b := New()
	_, unsub := b.SubscribeStatus("u1")
	unsub()
	require.False(t, b.HasStatusSubscriber("u1"))
	require.NotPanics(t, func() {
		b.BroadcastStatus("u1", NewBotStatusUpdate("bot-1", "stopped"))
	})
}

func TestBroadcastStatusDoesNotBlockWhenBufferFull(t *testing.T) {
	b := New()
	_, unsub := b.SubscribeStatus("u1")
	defer unsub()

	for i := 0; i < statusChanBuffer+5; i++ {
		b.BroadcastStatus("u1", NewBotStatusUpdate("bot-1", "running"))
	}
	// must return promptly, not deadlock, even once the buffer is full
}

func TestSubscribeStatusReplacesPriorSubscription(t *testing.T) {
	b := New()
	first, _ := b.SubscribeStatus("u1")
	second, unsub2 := b.SubscribeStatus("u1")
	defer unsub2()

	b.BroadcastStatus("u1", NewBotStatusUpdate("bot-1", "running"))
	select {
	case <-first:
		t.Fatal("stale subscription should not receive broadcasts")
	default:
	}
	msg := <-second
	require.Equal(t, "running", msg.Status)
}

func TestBroadcastLogDeliversToSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeLogs("bot-1")
	defer unsub()

	b.BroadcastLog("bot-1", LogMessage{Level: "info", Message: "ready", Source: "stdout"})
	msg := <-ch
	require.Equal(t, "info", msg.Level)
	require.Equal(t, "ready", msg.Message)
}

func TestNewBotDeleted(t *testing.T) {
	msg := NewBotDeleted("bot-1")
	require.Equal(t, "bot_deleted", msg.Type)
	require.Equal(t, "bot-1", msg.BotID)
	require.Empty(t, msg.Status)
}
