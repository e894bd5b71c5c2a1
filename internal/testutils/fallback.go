package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/squadbets/realtime/internal/domain"
)

// CreateRecord captures one CreateMessage call on the fake fallback.
type CreateRecord struct {
	GroupID      int64
	Content      string
	ClientTempID string
}

// FakeFallback implements the delivery coordinator's REST surface in
// memory.
type FakeFallback struct {
	mu sync.Mutex

	// CreateErr fails every CreateMessage call when set.
	CreateErr error
	// EditErr fails every EditMessage call when set.
	EditErr error
	// DeleteErr fails every DeleteMessage call when set.
	DeleteErr error
	// Recent seeds ListRecent responses per group.
	Recent map[int64][]domain.Message

	nextID  int64
	creates []CreateRecord
	edits   []int64
	deletes []int64
}

// NewFakeFallback returns a fallback whose first created message gets
// id 1000.
func NewFakeFallback() *FakeFallback {
	return &FakeFallback{
		nextID: 999,
		Recent: make(map[int64][]domain.Message),
	}
}

func (f *FakeFallback) CreateMessage(ctx context.Context, groupID int64, content string, parentMessageID *int64, clientTempID string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return domain.Message{}, f.CreateErr
	}

	f.nextID++
	f.creates = append(f.creates, CreateRecord{GroupID: groupID, Content: content, ClientTempID: clientTempID})
	return domain.Message{
		ID:              f.nextID,
		GroupID:         groupID,
		Content:         content,
		Type:            domain.MessageTypeText,
		ParentMessageID: parentMessageID,
		CreatedAt:       time.Now(),
	}, nil
}

func (f *FakeFallback) EditMessage(ctx context.Context, messageID int64, content string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.EditErr != nil {
		return domain.Message{}, f.EditErr
	}
	f.edits = append(f.edits, messageID)
	return domain.Message{
		ID:       messageID,
		Content:  content,
		Type:     domain.MessageTypeText,
		IsEdited: true,
	}, nil
}

func (f *FakeFallback) DeleteMessage(ctx context.Context, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *FakeFallback) ListRecent(ctx context.Context, groupID int64, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := f.Recent[groupID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Creates returns a copy of all recorded CreateMessage calls.
func (f *FakeFallback) Creates() []CreateRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CreateRecord, len(f.creates))
	copy(out, f.creates)
	return out
}

// Edits returns the message ids passed to EditMessage.
func (f *FakeFallback) Edits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.edits))
	copy(out, f.edits)
	return out
}

// Deletes returns the message ids passed to DeleteMessage.
func (f *FakeFallback) Deletes() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.deletes))
	copy(out, f.deletes)
	return out
}
