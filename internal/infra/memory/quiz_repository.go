package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// QuizLoader fetches quiz content from the content store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID int64) (domain.QuizContent, error)
}

// QuizRepository caches quiz content with TTL to avoid repeated DB hits.
// Sessions snapshot the content at start, so a stale entry only affects
// sessions started within the TTL of an edit.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[int64]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.QuizContent
	expiresAt time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int64]cachedQuiz),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID int64) (domain.QuizContent, error) {
	if quiz, ok := r.lookup(quizID); ok {
		return quiz, nil
	}

	key := fmt.Sprint(quizID)
	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		if quiz, ok := r.lookup(quizID); ok {
			return quiz, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.QuizContent{}, err
		}
		if r.ttl <= 0 {
			return quiz, nil
		}

		r.mu.Lock()
		r.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			expiresAt: r.clock().Add(r.ttlWithJitterLocked()),
		}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.QuizContent{}, err
	}
	return result.(domain.QuizContent), nil
}

// Invalidate drops a cached quiz so the next read goes to the loader.
func (r *QuizRepository) Invalidate(quizID int64) {
	r.mu.Lock()
	delete(r.cache, quizID)
	r.mu.Unlock()
}

func (r *QuizRepository) lookup(quizID int64) (domain.QuizContent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[quizID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.QuizContent{}, false
	}
	return entry.quiz, true
}

// ttlWithJitterLocked adds up to 10% to spread expirations. r.mu must be held.
func (r *QuizRepository) ttlWithJitterLocked() time.Duration {
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuizLoader serves quizzes from a map (tests, demo mode).
type StaticQuizLoader struct {
	mu      sync.RWMutex
	quizzes map[int64]domain.QuizContent
}

func NewStaticQuizLoader(quizzes ...domain.QuizContent) *StaticQuizLoader {
	l := &StaticQuizLoader{quizzes: make(map[int64]domain.QuizContent, len(quizzes))}
	for _, q := range quizzes {
		l.quizzes[q.ID] = q
	}
	return l
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID int64) (domain.QuizContent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.QuizContent{}, domain.ErrQuizNotFound
}

// Put replaces a quiz, as an authoring edit would.
func (l *StaticQuizLoader) Put(quiz domain.QuizContent) {
	l.mu.Lock()
	l.quizzes[quiz.ID] = quiz
	l.mu.Unlock()
}

// GetQuiz lets the loader serve as an uncached app.QuizRepository.
func (l *StaticQuizLoader) GetQuiz(ctx context.Context, quizID int64) (domain.QuizContent, error) {
	return l.LoadQuiz(ctx, quizID)
}
