package app

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// SessionRepository persists live sessions (in-memory, Redis, Postgres).
// Implementations must hand out copies: mutating a loaded session never
// changes stored state until Save.
type SessionRepository interface {
	// Create assigns s.ID. It fails with domain.ErrJoinCodeTaken when the
	// join code is held by another non-ended session.
	Create(ctx context.Context, s *domain.LiveSession) error
	Load(ctx context.Context, id int64) (*domain.LiveSession, error)
	Save(ctx context.Context, s *domain.LiveSession) error
	FindByJoinCode(ctx context.Context, code string) (*domain.LiveSession, error)
	// ListOngoing returns the non-ended sessions of a course.
	ListOngoing(ctx context.Context, courseID int64) ([]*domain.LiveSession, error)
}

// SessionStore serializes mutations per session id. Different sessions
// never contend on the same lock.
type SessionStore struct {
	repo SessionRepository

	mu    sync.Mutex
	locks map[int64]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewSessionStore(repo SessionRepository) *SessionStore {
	return &SessionStore{repo: repo, locks: make(map[int64]*sessionLock)}
}

// SessionTx is the handle passed to WithLock callbacks.
type SessionTx struct {
	Session *domain.LiveSession

	dirty bool
	after []func()
}

// MarkDirty asks the store to persist the session when the callback returns.
func (tx *SessionTx) MarkDirty() {
	tx.dirty = true
}

// AfterCommit runs fn once the session has been saved, still under the lock,
// so side effects keep mutation order.
func (tx *SessionTx) AfterCommit(fn func()) {
	tx.after = append(tx.after, fn)
}

// Load reads the current state without taking the lock.
func (s *SessionStore) Load(ctx context.Context, id int64) (*domain.LiveSession, error) {
	return s.repo.Load(ctx, id)
}

func (s *SessionStore) Create(ctx context.Context, session *domain.LiveSession) error {
	return s.repo.Create(ctx, session)
}

func (s *SessionStore) FindByJoinCode(ctx context.Context, code string) (*domain.LiveSession, error) {
	return s.repo.FindByJoinCode(ctx, code)
}

func (s *SessionStore) ListOngoing(ctx context.Context, courseID int64) ([]*domain.LiveSession, error) {
	return s.repo.ListOngoing(ctx, courseID)
}

// WithLock loads the session, runs fn and persists the result if fn marked
// it dirty. A failing fn leaves the stored state untouched and its
// AfterCommit hooks are dropped.
func (s *SessionStore) WithLock(ctx context.Context, id int64, fn func(tx *SessionTx) error) error {
	unlock := s.acquire(id)
	defer unlock()

	session, err := s.repo.Load(ctx, id)
	if err != nil {
		return err
	}

	tx := &SessionTx{Session: session}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.dirty {
		if err := s.repo.Save(ctx, tx.Session); err != nil {
			return err
		}
	}
	for _, hook := range tx.after {
		hook()
	}
	return nil
}

func (s *SessionStore) acquire(id int64) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
