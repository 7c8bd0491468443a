package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/kicet3/AIMEX-back-sub002/internal/session"
)

var _ session.SessionStore = (*MemoryStore)(nil)

// MemoryStore keeps sessions in a map. For tests only; production uses
// Repository.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*session.Session)}
}

func (s *MemoryStore) Create(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) GetActiveByUser(ctx context.Context, userID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *session.Session
	for _, sess := range s.sessions {
		if sess.UserID != userID || sess.TerminatedAt != nil || !isActive(sess.Status) {
			continue
		}
		if newest == nil || sess.CreatedAt.After(newest.CreatedAt) {
			newest = sess
		}
	}
	if newest == nil {
		return nil, session.ErrSessionNotFound
	}
	cp := *newest
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return session.ErrSessionNotFound
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*session.Session
	for _, sess := range s.sessions {
		if isActive(sess.Status) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func isActive(status session.SessionStatus) bool {
	for _, s := range session.ActiveStatuses() {
		if s == status {
			return true
		}
	}
	return false
}
