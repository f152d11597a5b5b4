package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

var (
	host  = domain.UserRef{ID: 2, Name: "Tess Teacher"}
	alice = domain.UserRef{ID: 3, Name: "Alice"}
	bob   = domain.UserRef{ID: 4, Name: "Bob"}
	carol = domain.UserRef{ID: 5, Name: "Carol"}
)

type published struct {
	topic string
	op    domain.CourseOp
	delta domain.SessionDelta
	event domain.SessionEvent
}

// recordingBus captures broadcasts in publish order.
type recordingBus struct {
	mu   sync.Mutex
	msgs []published
}

func (b *recordingBus) PublishCourseEvent(_ context.Context, courseID int64, op domain.CourseOp, _ domain.CourseSessionSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{topic: "course", op: op})
	return nil
}

func (b *recordingBus) PublishSessionUpdate(_ context.Context, _ int64, delta domain.SessionDelta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{topic: "update", delta: delta})
	return nil
}

func (b *recordingBus) PublishSessionEvent(_ context.Context, _ int64, ev domain.SessionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{topic: "event", event: ev})
	return nil
}

func (b *recordingBus) reset() {
	b.mu.Lock()
	b.msgs = nil
	b.mu.Unlock()
}

func (b *recordingBus) snapshot() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.msgs...)
}

// allowAll grants every capability except where deny lists the user.
type allowAll struct {
	deny map[int64]bool
}

func (a allowAll) CanHostSession(_ context.Context, userID int64, _ *domain.LiveSession) bool {
	return !a.deny[userID]
}

func (a allowAll) CanReadSession(_ context.Context, userID int64, _ *domain.LiveSession) bool {
	return !a.deny[userID]
}

func (a allowAll) CanViewCourse(_ context.Context, userID int64, _ domain.Course) bool {
	return !a.deny[userID]
}

func (a allowAll) CanViewAnswers(_ context.Context, userID int64, s *domain.LiveSession) bool {
	return !a.deny[userID] && s.IsHost(userID)
}

type fixture struct {
	engine  *app.Engine
	service *app.Service
	store   *app.SessionStore
	repo    *memory.SessionRepository
	quizzes *memory.StaticQuizLoader
	bus     *recordingBus
}

func newFixture(t *testing.T, authz app.Authorizer) *fixture {
	t.Helper()
	directory, _ := memory.SampleData()

	quizzes := memory.NewStaticQuizLoader(twoQuestionQuiz(), emptyQuiz(), brokenQuiz())
	repo := memory.NewSessionRepository()
	store := app.NewSessionStore(repo)
	bus := &recordingBus{}

	var mu sync.Mutex
	clock := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	codes := 0
	engine := app.NewEngine(store, quizzes, bus,
		app.WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		}),
		app.WithCodeGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			codes++
			return []string{"AAAAAA", "BBBBBB", "CCCCCC", "DDDDDD", "EEEEEE"}[codes%5]
		}),
	)
	if authz == nil {
		authz = allowAll{}
	}
	service := app.NewService(engine, store, quizzes, directory, authz, nil)
	return &fixture{engine: engine, service: service, store: store, repo: repo, quizzes: quizzes, bus: bus}
}

func (f *fixture) create(t *testing.T, quizID int64) *domain.LiveSession {
	t.Helper()
	s, err := f.service.CreateSession(context.Background(), host, quizID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func (f *fixture) load(t *testing.T, id int64) *domain.LiveSession {
	t.Helper()
	s, err := f.store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return s
}

func twoQuestionQuiz() domain.QuizContent {
	return domain.QuizContent{
		ID:       1,
		CourseID: 1,
		Title:    "Warm-up",
		Items: []domain.ContentItem{
			{
				Question:     "Pick the second",
				QuestionType: "MCQ",
				Choices: []domain.ContentChoice{
					{Text: "first"},
					{Text: "second", IsCorrect: true},
					{Text: "third"},
				},
			},
			{
				Question:     "Pick first and third",
				QuestionType: "MSQ",
				Choices: []domain.ContentChoice{
					{Text: "first", IsCorrect: true},
					{Text: "second"},
					{Text: "third", IsCorrect: true},
				},
			},
		},
	}
}

func emptyQuiz() domain.QuizContent {
	return domain.QuizContent{ID: 2, CourseID: 1, Title: "Empty"}
}

func brokenQuiz() domain.QuizContent {
	return domain.QuizContent{
		ID:       3,
		CourseID: 1,
		Title:    "Broken",
		Items: []domain.ContentItem{
			{Question: "Two right answers", QuestionType: "MCQ", Choices: []domain.ContentChoice{
				{Text: "a", IsCorrect: true},
				{Text: "b", IsCorrect: true},
			}},
		},
	}
}

func sampleDirectory() app.Directory {
	directory, _ := memory.SampleData()
	return directory
}
