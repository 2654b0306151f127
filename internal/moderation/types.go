package moderation

import (
	"context"
	"time"
)

// Kind is the closed vocabulary of feedback.
type Kind string

const (
	KindPositive  Kind = "positive"
	KindNegative  Kind = "negative"
	KindComplaint Kind = "complaint"
)

// ParseKind returns the Kind named by s.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindPositive, KindNegative, KindComplaint:
		return k, true
	}
	return "", false
}

// FeedbackRecord is one submitted reaction. Target is 0 when the author had
// nobody to rate.
type FeedbackRecord struct {
	Author int64
	Target int64
	Kind   Kind
	At     time.Time
}

// BlockRecord marks a user as blocked until an administrator lifts it.
type BlockRecord struct {
	UserID int64
	Reason string
	At     time.Time
}

// Persistence stores feedback and blocks. Each call is individually atomic.
type Persistence interface {
	InsertFeedback(ctx context.Context, rec FeedbackRecord) error
	CountComplaints(ctx context.Context, targetID int64) (int, error)
	// InsertBlock reports whether a new record was created; an existing
	// block is left untouched.
	InsertBlock(ctx context.Context, userID int64, reason string) (bool, error)
	IsBlocked(ctx context.Context, userID int64) (bool, error)
	// DeleteBlock reports whether a record existed.
	DeleteBlock(ctx context.Context, userID int64) (bool, error)
}

// Targets resolves whom a feedback is about. *matching.Service implements it.
type Targets interface {
	TakeFeedbackTarget(userID int64) int64
}

// Evictor takes a freshly blocked user out of circulation.
type Evictor interface {
	Evict(ctx context.Context, userID int64)
}
