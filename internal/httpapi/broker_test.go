package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xynehq/jaf-sub004/pkg/models"
)

func TestBrokerDeliversToSubscriber(t *testing.T) {
	b := newBroker()
	events, unsubscribe := b.subscribe("conv-1")
	defer unsubscribe()

	b.publish("conv-1", models.Event{Type: models.EventRunStart})

	select {
	case ev := <-events:
		require.Equal(t, models.EventRunStart, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerDoesNotDeliverToOtherConversation(t *testing.T) {
	b := newBroker()
	events, unsubscribe := b.subscribe("conv-1")
	defer unsubscribe()

	b.publish("conv-2", models.Event{Type: models.EventRunStart})

	select {
	case <-events:
		t.Fatal("unexpected event delivered across conversations")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := newBroker()
	events, unsubscribe := b.subscribe("conv-1")
	unsubscribe()

	_, ok := <-events
	require.False(t, ok)
}

func TestBrokerDropsWhenSubscriberBufferFull(t *testing.T) {
	b := newBroker()
	_, unsubscribe := b.subscribe("conv-1")
	defer unsubscribe()

	for i := 0; i < subscriberBufferLen+10; i++ {
		b.publish("conv-1", models.Event{Type: models.EventTokenUsage})
	}
}
