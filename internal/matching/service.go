// Package matching owns the user registry and the waiting pool, and pairs
// waiting users.
//
// Every registry and pool mutation happens under one mutex. Notifications go
// out with the mutex released: a pair is claimed under the lock, announced to
// both users without it, then committed or rolled back under the lock again.
// While a pair is in flight both users are marked pending, stay in the pool
// at their original position and are skipped by other match passes.
package matching

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/whisper/pairbot/internal/metrics"
)

// ErrPaired is returned when registering a user who is still in a conversation.
var ErrPaired = errors.New("matching: user is paired")

// Notifier tells users about pairing outcomes.
type Notifier interface {
	// Matched tells user that partner has been found.
	Matched(ctx context.Context, user, partner Profile) error
	// Cancelled tells a user who was already told about partner that the
	// pairing did not go through.
	Cancelled(ctx context.Context, user, partner Profile)
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Registered int
	Waiting    int
	Pairs      int
}

// Service is the lock-guarded aggregate of the user registry and the waiting
// pool.
type Service struct {
	mu     sync.Mutex
	users  map[int64]*Profile
	pool   *queue
	match  Predicate
	notify Notifier
	now    func() time.Time
}

// NewService creates a matching service with the given compatibility
// predicate and notifier.
func NewService(match Predicate, notify Notifier) *Service {
	return &Service{
		users:  make(map[int64]*Profile),
		pool:   newQueue(),
		match:  match,
		notify: notify,
		now:    time.Now,
	}
}

// Register creates or refreshes the profile for id, puts it in the waiting
// pool and runs a match pass.
func (s *Service) Register(ctx context.Context, id int64, attrs map[string]string) error {
	s.mu.Lock()
	p, ok := s.users[id]
	if ok && (p.Partner != 0 || p.pending) {
		s.mu.Unlock()
		return ErrPaired
	}
	if !ok {
		p = &Profile{ID: id}
		s.users[id] = p
	}
	p.Attributes = make(map[string]string, len(attrs))
	for k, v := range attrs {
		p.Attributes[k] = v
	}
	s.enqueueLocked(p)
	s.observeLocked()
	s.mu.Unlock()

	log.Printf("[matcher] registered %d %v", id, attrs)
	s.Match(ctx)
	return nil
}

// Enqueue puts a registered, unpaired user in the waiting pool. It reports
// whether the user was added.
func (s *Service) Enqueue(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[id]
	if !ok || p.Partner != 0 || p.pending {
		return false
	}
	added := s.enqueueLocked(p)
	s.observeLocked()
	return added
}

func (s *Service) enqueueLocked(p *Profile) bool {
	if !s.pool.push(p.ID) {
		return false
	}
	p.JoinedAt = s.now()
	return true
}

// Dequeue removes id from the waiting pool. Absent ids are ignored.
func (s *Service) Dequeue(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pool.remove(id)
	s.observeLocked()
}

// Match runs one pass over the waiting pool, pairing users in arrival order,
// and returns the number of pairs committed. A pair whose announcement fails
// is rolled back and not retried within the same pass.
func (s *Service) Match(ctx context.Context) int {
	formed := 0
	failed := make(map[[2]int64]bool)

	for {
		a, b, ok := s.claim(failed)
		if !ok {
			return formed
		}
		if s.announce(ctx, a, b) {
			formed++
		} else {
			failed[[2]int64{a.ID, b.ID}] = true
		}
	}
}

// claim finds the first compatible pair in pool order and marks it pending.
func (s *Service) claim(failed map[[2]int64]bool) (Profile, Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	ids := s.pool.order
	for i, aid := range ids {
		a := s.users[aid]
		if a.Partner != 0 || a.pending {
			continue
		}
		for _, bid := range ids[i+1:] {
			b := s.users[bid]
			if b.Partner != 0 || b.pending || failed[[2]int64{aid, bid}] {
				continue
			}
			if !s.match(*a, *b) {
				continue
			}
			a.Partner, b.Partner = bid, aid
			a.pending, b.pending = true, true
			return a.clone(), b.clone(), true
		}
	}
	return Profile{}, Profile{}, false
}

// announce notifies both users of a claimed pair and commits it. On any
// failure the pair is rolled back and users already told are informed.
func (s *Service) announce(ctx context.Context, a, b Profile) bool {
	if err := s.notify.Matched(ctx, a, b); err != nil {
		log.Printf("[matcher] notify %d of partner %d: %v", a.ID, b.ID, err)
		s.rollback(a.ID, b.ID)
		return false
	}
	if err := s.notify.Matched(ctx, b, a); err != nil {
		log.Printf("[matcher] notify %d of partner %d: %v", b.ID, a.ID, err)
		s.rollback(a.ID, b.ID)
		s.notify.Cancelled(ctx, a, b)
		return false
	}
	if !s.commit(a.ID, b.ID) {
		log.Printf("[matcher] pair %d-%d withdrawn during announcement", a.ID, b.ID)
		s.notify.Cancelled(ctx, a, b)
		s.notify.Cancelled(ctx, b, a)
		return false
	}
	log.Printf("[matcher] paired %d with %d", a.ID, b.ID)
	return true
}

// commit finalizes a pending pair if both users are still registered, still
// waiting and still point at each other.
func (s *Service) commit(aid, bid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, aok := s.users[aid]
	b, bok := s.users[bid]
	if !aok || !bok || a.Partner != bid || b.Partner != aid ||
		!s.pool.contains(aid) || !s.pool.contains(bid) {
		s.rollbackLocked(aid, bid)
		return false
	}

	now := s.now()
	for _, p := range []*Profile{a, b} {
		p.pending = false
		p.rateable = p.Partner
		s.pool.remove(p.ID)
		metrics.WaitDuration.Observe(now.Sub(p.JoinedAt).Seconds())
	}
	metrics.PairsFormed.Inc()
	s.observeLocked()
	return true
}

func (s *Service) rollback(aid, bid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbackLocked(aid, bid)
}

func (s *Service) rollbackLocked(aid, bid int64) {
	if a, ok := s.users[aid]; ok && a.pending && a.Partner == bid {
		a.Partner, a.pending = 0, false
	}
	if b, ok := s.users[bid]; ok && b.pending && b.Partner == aid {
		b.Partner, b.pending = 0, false
	}
	metrics.PairRollbacks.Inc()
	s.observeLocked()
}

// Unpair breaks id's conversation on both sides and returns the former
// partner. It reports false when id had no committed partner. The partner's
// side is cleared only if it still points back at id.
func (s *Service) Unpair(id int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[id]
	if !ok || p.Partner == 0 || p.pending {
		return 0, false
	}
	partner := p.Partner
	p.Partner = 0
	p.LastPartner = partner
	if q, ok := s.users[partner]; ok && q.Partner == id && !q.pending {
		q.Partner = 0
		q.LastPartner = id
	}
	s.observeLocked()
	return partner, true
}

// Partner returns id's committed partner, or 0.
func (s *Service) Partner(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[id]
	if !ok || p.pending {
		return 0
	}
	return p.Partner
}

// Profile returns a copy of id's profile.
func (s *Service) Profile(id int64) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[id]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// Waiting reports whether id is in the waiting pool.
func (s *Service) Waiting(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.contains(id)
}

// Pool returns the waiting pool in arrival order.
func (s *Service) Pool() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.snapshot()
}

// TakeFeedbackTarget returns the partner id may still rate, current or
// just-ended, and consumes it. It returns 0 when there is nobody to rate.
func (s *Service) TakeFeedbackTarget(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[id]
	if !ok {
		return 0
	}
	target := p.rateable
	p.rateable = 0
	return target
}

// Remove deletes id from the registry and the pool. If id was paired, the
// partner's side is cleared and the partner id is returned.
func (s *Service) Remove(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[id]
	if !ok {
		return 0
	}
	var partner int64
	if p.Partner != 0 && !p.pending {
		partner = p.Partner
		if q, ok := s.users[partner]; ok && q.Partner == id {
			q.Partner = 0
			q.LastPartner = id
		}
	}
	delete(s.users, id)
	s.pool.remove(id)
	s.observeLocked()
	return partner
}

// Purge drops pool entries whose profile no longer exists and returns how
// many were removed.
func (s *Service) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.purgeLocked()
	s.observeLocked()
	return n
}

func (s *Service) purgeLocked() int {
	removed := 0
	for _, id := range s.pool.snapshot() {
		if _, ok := s.users[id]; !ok {
			s.pool.remove(id)
			removed++
		}
	}
	return removed
}

// Stats returns registry counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Service) statsLocked() Stats {
	st := Stats{Registered: len(s.users), Waiting: s.pool.len()}
	for _, p := range s.users {
		if p.Partner != 0 && !p.pending {
			st.Pairs++
		}
	}
	st.Pairs /= 2
	return st
}

func (s *Service) observeLocked() {
	st := s.statsLocked()
	metrics.RegisteredUsers.Set(float64(st.Registered))
	metrics.PoolSize.Set(float64(st.Waiting))
	metrics.ActivePairs.Set(float64(st.Pairs))
}
