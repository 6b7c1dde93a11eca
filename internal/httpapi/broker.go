package httpapi

import (
	"sync"

	"github.com/xynehq/jaf-sub004/pkg/models"
)

// subscriberBufferLen bounds each /approvals/stream subscriber's channel,
// mirroring engine.BackpressureSink's drop-rather-than-block policy (spec
// §5) so one slow SSE client never stalls a run's event emission.
const subscriberBufferLen = 64

// broker fans out events to per-conversation subscribers so an
// /approvals/stream client sees approval_required/approval_decision events
// produced by any /chat call for that conversationId, not just one tied to
// its own HTTP connection.
type broker struct {
	mu   sync.Mutex
	subs map[string]map[chan models.Event]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[chan models.Event]struct{})}
}

// subscribe registers a new channel for conversationID. The caller must
// call the returned unsubscribe func exactly once.
func (b *broker) subscribe(conversationID string) (<-chan models.Event, func()) {
	ch := make(chan models.Event, subscriberBufferLen)

	b.mu.Lock()
	set, ok := b.subs[conversationID]
	if !ok {
		set = make(map[chan models.Event]struct{})
		b.subs[conversationID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[conversationID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, conversationID)
			}
		}
		close(ch)
	}
	return ch, unsubscribe
}

// publish delivers ev to every current subscriber of conversationID,
// dropping it for any subscriber whose buffer is full.
func (b *broker) publish(conversationID string, ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[conversationID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
