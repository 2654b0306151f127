package moderation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Persistence.
type MemoryStore struct {
	mu       sync.Mutex
	feedback []FeedbackRecord
	blocks   map[int64]BlockRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blocks: make(map[int64]BlockRecord)}
}

// InsertFeedback implements Persistence.
func (m *MemoryStore) InsertFeedback(_ context.Context, rec FeedbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, rec)
	return nil
}

// CountComplaints implements Persistence.
func (m *MemoryStore) CountComplaints(_ context.Context, targetID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.feedback {
		if rec.Kind == KindComplaint && rec.Target == targetID {
			n++
		}
	}
	return n, nil
}

// InsertBlock implements Persistence.
func (m *MemoryStore) InsertBlock(_ context.Context, userID int64, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[userID]; ok {
		return false, nil
	}
	m.blocks[userID] = BlockRecord{UserID: userID, Reason: reason, At: time.Now().UTC()}
	return true, nil
}

// IsBlocked implements Persistence.
func (m *MemoryStore) IsBlocked(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocks[userID]
	return ok, nil
}

// DeleteBlock implements Persistence.
func (m *MemoryStore) DeleteBlock(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocks[userID]
	delete(m.blocks, userID)
	return ok, nil
}

// Feedback returns all stored feedback.
func (m *MemoryStore) Feedback() []FeedbackRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FeedbackRecord, len(m.feedback))
	copy(out, m.feedback)
	return out
}

// Block returns userID's block record.
func (m *MemoryStore) Block(userID int64) (BlockRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.blocks[userID]
	return rec, ok
}
