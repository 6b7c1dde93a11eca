package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore(RetentionPolicy{})
	ctx := context.Background()

	_, found, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.StoreMessages(ctx, "conv-1", []models.Message{
		models.NewUserMessage("hi"),
	}, map[string]any{"title": "greeting"}))

	record, found, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "conv-1", record.ID)
	require.Len(t, record.Messages, 1)
	require.Equal(t, "greeting", record.Metadata["title"])
}

func TestMemoryStoreGetConversationIsDefensiveCopy(t *testing.T) {
	store := NewMemoryStore(RetentionPolicy{})
	ctx := context.Background()
	require.NoError(t, store.StoreMessages(ctx, "conv-1", []models.Message{models.NewUserMessage("hi")}, nil))

	record, _, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	record.Messages[0].Content = "mutated"
	record.Messages = append(record.Messages, models.NewUserMessage("extra"))

	again, _, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, again.Messages, 1)
	require.Equal(t, "hi", again.Messages[0].Content)
}

func TestMemoryStoreAppendMessagesAccumulates(t *testing.T) {
	store := NewMemoryStore(RetentionPolicy{})
	ctx := context.Background()

	require.NoError(t, store.AppendMessages(ctx, "conv-1", []models.Message{models.NewUserMessage("first")}, nil))
	require.NoError(t, store.AppendMessages(ctx, "conv-1", []models.Message{models.NewAssistantMessage("second", nil)}, nil))

	record, found, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, record.Messages, 2)
	require.Equal(t, "first", record.Messages[0].Content)
	require.Equal(t, "second", record.Messages[1].Content)
}

func TestMemoryStoreAppendMessagesAppliesRetentionWithLeadingSystem(t *testing.T) {
	store := NewMemoryStore(RetentionPolicy{MaxMessages: 2, PreserveLeadingSystem: true})
	ctx := context.Background()

	require.NoError(t, store.StoreMessages(ctx, "conv-1", []models.Message{
		models.NewSystemMessage("rules"),
		models.NewUserMessage("one"),
		models.NewUserMessage("two"),
	}, nil))
	require.NoError(t, store.AppendMessages(ctx, "conv-1", []models.Message{models.NewUserMessage("three")}, nil))

	record, _, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, record.Messages, 2)
	require.Equal(t, models.RoleSystem, record.Messages[0].Role)
	require.Equal(t, "three", record.Messages[1].Content)
}

func TestMemoryStoreAppendMessagesMergesMetadataShallow(t *testing.T) {
	store := NewMemoryStore(RetentionPolicy{})
	ctx := context.Background()

	require.NoError(t, store.StoreMessages(ctx, "conv-1", nil, map[string]any{"a": "1", "b": "2"}))
	require.NoError(t, store.AppendMessages(ctx, "conv-1", nil, map[string]any{"b": "replaced", "c": "3"}))

	record, _, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, "1", record.Metadata["a"])
	require.Equal(t, "replaced", record.Metadata["b"])
	require.Equal(t, "3", record.Metadata["c"])
}

func TestMemoryStoreAppendMessagesMergesToolApprovalsNested(t *testing.T) {
	store := NewMemoryStore(RetentionPolicy{})
	ctx := context.Background()

	require.NoError(t, store.StoreMessages(ctx, "conv-1", nil, map[string]any{
		models.ToolApprovalsMetadataKey: map[string]any{"call-1": "approved"},
	}))
	require.NoError(t, store.AppendMessages(ctx, "conv-1", nil, map[string]any{
		models.ToolApprovalsMetadataKey: map[string]any{"call-2": "denied"},
	}))

	record, _, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	approvals := record.Metadata[models.ToolApprovalsMetadataKey].(map[string]any)
	require.Equal(t, "approved", approvals["call-1"])
	require.Equal(t, "denied", approvals["call-2"])
}

func TestMemoryStoreDeleteConversationReportsExistence(t *testing.T) {
	store := NewMemoryStore(RetentionPolicy{})
	ctx := context.Background()

	existed, err := store.DeleteConversation(ctx, "missing")
	require.NoError(t, err)
	require.False(t, existed)

	require.NoError(t, store.StoreMessages(ctx, "conv-1", []models.Message{models.NewUserMessage("hi")}, nil))
	existed, err = store.DeleteConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, existed)

	_, found, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryStoreHealthCheck(t *testing.T) {
	store := NewMemoryStore(RetentionPolicy{})
	require.NoError(t, store.HealthCheck(context.Background()))
}

func TestLockManagerSerializesConcurrentHolders(t *testing.T) {
	locks := NewLockManager(time.Second)
	var mu sync.Mutex
	order := []string{}

	var wg sync.WaitGroup
	for i, holder := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(i int, holder string) {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), "conv-1", holder)
			require.NoError(t, err)
			defer release()
			mu.Lock()
			order = append(order, holder)
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}(i, holder)
	}
	wg.Wait()
	require.Len(t, order, 3)
}

func TestLockManagerAcquireRespectsContextCancellation(t *testing.T) {
	locks := NewLockManager(time.Second)
	release, err := locks.Acquire(context.Background(), "conv-1", "holder-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locks.Acquire(ctx, "conv-1", "holder-2")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockManagerAcquireTimesOut(t *testing.T) {
	locks := NewLockManager(20 * time.Millisecond)
	release, err := locks.Acquire(context.Background(), "conv-1", "holder-1")
	require.NoError(t, err)
	defer release()

	_, err = locks.Acquire(context.Background(), "conv-1", "holder-2")
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestLockingStoreSerializesWritesPerConversation(t *testing.T) {
	store := NewMemoryStore(RetentionPolicy{})
	locking := NewLockingStore(store, NewLockManager(time.Second), "writer")
	ctx := context.Background()

	var wg sync.WaitGroup
	var errs atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := locking.AppendMessages(ctx, "conv-1", []models.Message{models.NewUserMessage("x")}, nil); err != nil {
				errs.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, errs.Load())

	record, _, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, record.Messages, 20)
}
