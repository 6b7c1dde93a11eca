// Package memory implements the Memory Provider component (spec §4.5):
// durable ConversationRecord persistence shared across runs that share a
// conversationId, with a pluggable capability-set Store interface (spec
// §9's "backends polymorphic over {get, set, delete, scan?, watch?}").
package memory

import (
	"context"

	"github.com/xynehq/jaf-sub004/pkg/models"
)

// Store is the Memory Provider contract (spec §4.5): getConversation,
// appendMessages, storeMessages, deleteConversation, healthCheck.
type Store interface {
	// GetConversation returns the conversation record, or found=false if no
	// conversation exists under id.
	GetConversation(ctx context.Context, id string) (record *models.ConversationRecord, found bool, err error)

	// AppendMessages atomically appends messages and shallow-merges
	// metadataPatch onto the existing metadata, except for declared nested
	// maps (currently only models.ToolApprovalsMetadataKey) which are
	// themselves shallow-merged one level deeper (spec §4.5's "deep merge
	// only for nested maps explicitly declared").
	AppendMessages(ctx context.Context, id string, messages []models.Message, metadataPatch map[string]any) error

	// StoreMessages idempotently creates or overwrites a conversation's
	// messages and metadata wholesale.
	StoreMessages(ctx context.Context, id string, messages []models.Message, metadata map[string]any) error

	// DeleteConversation removes a conversation, reporting whether one
	// existed.
	DeleteConversation(ctx context.Context, id string) (bool, error)

	HealthCheck(ctx context.Context) error
}

// RetentionPolicy configures the optional sliding-window eviction spec
// §4.5 describes as advisory ("may no-op"). MaxMessages <= 0 disables
// trimming.
type RetentionPolicy struct {
	MaxMessages           int
	CompressionThreshold  int // advisory; this implementation does not compress, only trims
	PreserveLeadingSystem bool
}

// applyRetention trims messages to the policy's sliding window, preserving
// the first message if it is a system message and PreserveLeadingSystem is
// set (spec §4.5: "preserving first system message if present").
func applyRetention(messages []models.Message, policy RetentionPolicy) []models.Message {
	if policy.MaxMessages <= 0 || len(messages) <= policy.MaxMessages {
		return messages
	}

	var leadingSystem *models.Message
	rest := messages
	if policy.PreserveLeadingSystem && len(messages) > 0 && messages[0].Role == models.RoleSystem {
		leadingSystem = &messages[0]
		rest = messages[1:]
	}

	budget := policy.MaxMessages
	if leadingSystem != nil {
		budget--
	}
	if budget < 0 {
		budget = 0
	}
	if len(rest) > budget {
		rest = rest[len(rest)-budget:]
	}

	if leadingSystem == nil {
		return rest
	}
	out := make([]models.Message, 0, len(rest)+1)
	out = append(out, *leadingSystem)
	out = append(out, rest...)
	return out
}
