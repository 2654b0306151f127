package store

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/whisper/pairbot/internal/moderation"
)

// ErrNoDatabase is returned by Nop for operations that cannot be dropped
// silently.
var ErrNoDatabase = errors.New("store: no database configured")

// Nop is the persistence used when no database is configured. Feedback is
// logged and dropped, nobody is blocked and complaint counts are zero. Block
// changes fail with ErrNoDatabase.
type Nop struct {
	once sync.Once
}

var _ moderation.Persistence = (*Nop)(nil)

func (n *Nop) warn() {
	n.once.Do(func() {
		log.Println("[store] DATABASE_URL not set; feedback and blocks are not persisted")
	})
}

// InsertFeedback implements moderation.Persistence.
func (n *Nop) InsertFeedback(_ context.Context, rec moderation.FeedbackRecord) error {
	n.warn()
	log.Printf("[store] dropped %s feedback from %d about %d", rec.Kind, rec.Author, rec.Target)
	return nil
}

// CountComplaints implements moderation.Persistence.
func (n *Nop) CountComplaints(context.Context, int64) (int, error) { return 0, nil }

// InsertBlock implements moderation.Persistence.
func (n *Nop) InsertBlock(_ context.Context, userID int64, reason string) (bool, error) {
	n.warn()
	log.Printf("[store] cannot block %d (%s) without a database", userID, reason)
	return false, ErrNoDatabase
}

// IsBlocked implements moderation.Persistence.
func (n *Nop) IsBlocked(context.Context, int64) (bool, error) { return false, nil }

// DeleteBlock implements moderation.Persistence.
func (n *Nop) DeleteBlock(context.Context, int64) (bool, error) {
	n.warn()
	return false, ErrNoDatabase
}
