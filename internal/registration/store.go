package registration

import (
	"context"
	"sync"
)

// Progress is the saved state of a registration in progress: the index of the
// attribute being asked and the answers collected so far.
type Progress struct {
	Step    int               `json:"step"`
	Answers map[string]string `json:"answers"`
}

// StateStore persists registration progress per user. Load returns nil when
// the user has no registration in progress.
type StateStore interface {
	Load(ctx context.Context, userID int64) (*Progress, error)
	Save(ctx context.Context, userID int64, p *Progress) error
	Clear(ctx context.Context, userID int64) error
}

// MemoryStore is an in-process StateStore.
type MemoryStore struct {
	mu    sync.Mutex
	state map[int64]Progress
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[int64]Progress)}
}

// Load implements StateStore.
func (m *MemoryStore) Load(_ context.Context, userID int64) (*Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.state[userID]
	if !ok {
		return nil, nil
	}
	return &Progress{Step: p.Step, Answers: copyAnswers(p.Answers)}, nil
}

// Save implements StateStore.
func (m *MemoryStore) Save(_ context.Context, userID int64, p *Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state[userID] = Progress{Step: p.Step, Answers: copyAnswers(p.Answers)}
	return nil
}

// Clear implements StateStore.
func (m *MemoryStore) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.state, userID)
	return nil
}

func copyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
