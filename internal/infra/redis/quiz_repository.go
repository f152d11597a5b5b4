package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// QuizLoader fetches quiz content from the content store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID int64) (domain.QuizContent, error)
}

// QuizRepository caches quiz content as JSON in Redis and falls back to a
// loader on cache miss. Concurrent misses for one quiz share a single load.
//
//	SET {prefix}quiz:{quizID} <content json> EX ttl
type QuizRepository struct {
	client redis.UniversalClient
	loader QuizLoader
	prefix string
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuizRepository(client redis.UniversalClient, loader QuizLoader, prefix string, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		prefix: prefix,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID int64) (domain.QuizContent, error) {
	if quiz, ok := r.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(r.key(quizID), func() (interface{}, error) {
		// Re-check cache in case another caller filled it.
		if quiz, ok := r.cached(ctx, quizID); ok {
			return quiz, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.QuizContent{}, err
		}

		raw, err := json.Marshal(quiz)
		if err != nil {
			return domain.QuizContent{}, fmt.Errorf("encode quiz %d: %w", quizID, err)
		}
		if err := r.client.Set(ctx, r.key(quizID), raw, r.ttlWithJitter()).Err(); err != nil {
			slog.Warn("quiz cache write failed", "quiz", quizID, "error", err)
		}
		return quiz, nil
	})
	if err != nil {
		return domain.QuizContent{}, err
	}
	return result.(domain.QuizContent), nil
}

// Invalidate drops the cached copy of a quiz.
func (r *QuizRepository) Invalidate(ctx context.Context, quizID int64) error {
	return r.client.Del(ctx, r.key(quizID)).Err()
}

func (r *QuizRepository) cached(ctx context.Context, quizID int64) (domain.QuizContent, bool) {
	raw, err := r.client.Get(ctx, r.key(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("quiz cache read failed", "quiz", quizID, "error", err)
		}
		return domain.QuizContent{}, false
	}
	var quiz domain.QuizContent
	if err := json.Unmarshal(raw, &quiz); err != nil {
		slog.Warn("quiz cache entry is corrupt", "quiz", quizID, "error", err)
		return domain.QuizContent{}, false
	}
	return quiz, true
}

func (r *QuizRepository) key(quizID int64) string {
	return fmt.Sprintf("%squiz:%d", r.prefix, quizID)
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
