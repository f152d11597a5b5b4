package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// SessionRepository keeps live sessions in process memory. Values are
// cloned on the way in and out so callers never share state with the map.
type SessionRepository struct {
	mu       sync.RWMutex
	seq      int64
	sessions map[int64]*domain.LiveSession
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[int64]*domain.LiveSession)}
}

func (r *SessionRepository) Create(_ context.Context, s *domain.LiveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.codeTakenLocked(s.Details.JoinCode, 0) {
		return domain.ErrJoinCodeTaken
	}
	r.seq++
	s.ID = r.seq
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *SessionRepository) Load(_ context.Context, id int64) (*domain.LiveSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (r *SessionRepository) Save(_ context.Context, s *domain.LiveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	if s.EndedAt == nil && r.codeTakenLocked(s.Details.JoinCode, s.ID) {
		return domain.ErrJoinCodeTaken
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *SessionRepository) FindByJoinCode(_ context.Context, code string) (*domain.LiveSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.EndedAt == nil && s.Details.JoinCode == code {
			return s.Clone(), nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (r *SessionRepository) ListOngoing(_ context.Context, courseID int64) ([]*domain.LiveSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.LiveSession
	for _, s := range r.sessions {
		if s.CourseID == courseID && s.EndedAt == nil {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (r *SessionRepository) codeTakenLocked(code string, exceptID int64) bool {
	if code == "" {
		return false
	}
	for id, s := range r.sessions {
		if id != exceptID && s.EndedAt == nil && s.Details.JoinCode == code {
			return true
		}
	}
	return false
}
