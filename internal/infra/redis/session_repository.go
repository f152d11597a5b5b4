package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

// SessionRepository stores each live session as one JSON document so a
// reader always sees a whole state. Keys:
//
//	{prefix}live:seq                 id sequence
//	{prefix}live:session:{id}        session json
//	{prefix}live:code:{code}         id of the non-ended session holding code
//	{prefix}live:course:{courseID}   set of non-ended session ids
//
// Cross-key updates are not transactional; a single process owns each
// session's writes through app.SessionStore.
type SessionRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewSessionRepository(client redis.UniversalClient, prefix string, ttl time.Duration) *SessionRepository {
	return &SessionRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.LiveSession) error {
	id, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("next session id: %w", err)
	}

	if code := s.Details.JoinCode; code != "" {
		ok, err := r.client.SetNX(ctx, r.codeKey(code), id, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("reserve join code: %w", err)
		}
		if !ok {
			return domain.ErrJoinCodeTaken
		}
	}

	s.ID = id
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", id, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(id), raw, r.ttl)
		pipe.SAdd(ctx, r.courseKey(s.CourseID), id)
		return nil
	})
	return err
}

func (r *SessionRepository) Load(ctx context.Context, id int64) (*domain.LiveSession, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", id, err)
	}
	var s domain.LiveSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", id, err)
	}
	return &s, nil
}

func (r *SessionRepository) Save(ctx context.Context, s *domain.LiveSession) error {
	prev, err := r.Load(ctx, s.ID)
	if err != nil {
		return err
	}

	code := s.Details.JoinCode
	if s.EndedAt == nil && code != "" && code != prev.Details.JoinCode {
		ok, err := r.client.SetNX(ctx, r.codeKey(code), s.ID, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("reserve join code: %w", err)
		}
		if !ok {
			return domain.ErrJoinCodeTaken
		}
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", s.ID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(s.ID), raw, r.ttl)
		if prev.Details.JoinCode != "" && (prev.Details.JoinCode != code || s.EndedAt != nil) {
			pipe.Del(ctx, r.codeKey(prev.Details.JoinCode))
		}
		if s.EndedAt != nil {
			pipe.SRem(ctx, r.courseKey(s.CourseID), s.ID)
		} else if r.ttl > 0 {
			pipe.Expire(ctx, r.codeKey(code), r.ttl)
		}
		return nil
	})
	return err
}

func (r *SessionRepository) FindByJoinCode(ctx context.Context, code string) (*domain.LiveSession, error) {
	id, err := r.client.Get(ctx, r.codeKey(code)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve join code: %w", err)
	}
	s, err := r.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.EndedAt != nil || s.Details.JoinCode != code {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (r *SessionRepository) ListOngoing(ctx context.Context, courseID int64) ([]*domain.LiveSession, error) {
	members, err := r.client.SMembers(ctx, r.courseKey(courseID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list course %d sessions: %w", courseID, err)
	}

	out := make([]*domain.LiveSession, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		s, err := r.Load(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			// Expired documents leave stale set members behind.
			r.client.SRem(ctx, r.courseKey(courseID), m)
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.EndedAt == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *SessionRepository) seqKey() string {
	return r.prefix + "live:seq"
}

func (r *SessionRepository) sessionKey(id int64) string {
	return fmt.Sprintf("%slive:session:%d", r.prefix, id)
}

func (r *SessionRepository) codeKey(code string) string {
	return r.prefix + "live:code:" + code
}

func (r *SessionRepository) courseKey(courseID int64) string {
	return fmt.Sprintf("%slive:course:%d", r.prefix, courseID)
}
