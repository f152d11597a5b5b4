package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"live-quiz-service/internal/domain"
)

// Broadcaster fans state changes out to topic subscribers.
type Broadcaster interface {
	PublishCourseEvent(ctx context.Context, courseID int64, op domain.CourseOp, summary domain.CourseSessionSummary) error
	PublishSessionUpdate(ctx context.Context, sessionID int64, delta domain.SessionDelta) error
	PublishSessionEvent(ctx context.Context, sessionID int64, ev domain.SessionEvent) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID int64) (domain.QuizContent, error)
}

// AdvanceKind tells whether Advance moved the cursor or ended the session.
type AdvanceKind string

const (
	AdvanceNext  AdvanceKind = "next"
	AdvanceEnded AdvanceKind = "ended"
)

type AdvanceResult struct {
	Kind         AdvanceKind               `json:"kind"`
	CurrentIndex int                       `json:"current_index"`
	Total        int                       `json:"total"`
	Leaderboard  []domain.LeaderboardEntry `json:"leaderboard,omitempty"`
}

type Progress struct {
	CurrentIndex int `json:"current_index"`
	Total        int `json:"total"`
}

// maxCodeAttempts bounds join code collisions before giving up.
const maxCodeAttempts = 8

// Engine is the live session state machine. Every mutation runs under the
// store's per-session lock and broadcasts from inside it.
type Engine struct {
	store   *SessionStore
	quizzes QuizRepository
	bus     Broadcaster
	codes   func() string
	now     func() time.Time
}

type EngineOption func(*Engine)

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithCodeGenerator(gen func() string) EngineOption {
	return func(e *Engine) { e.codes = gen }
}

func NewEngine(store *SessionStore, quizzes QuizRepository, bus Broadcaster, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		quizzes: quizzes,
		bus:     bus,
		codes:   NewJoinCode,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create opens a lobby for quiz hosted by host.
func (e *Engine) Create(ctx context.Context, host domain.UserRef, quiz domain.QuizContent) (*domain.LiveSession, error) {
	ctx = context.WithoutCancel(ctx)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		session := domain.NewLiveSession(quiz, host, e.codes(), e.now())
		err := e.store.Create(ctx, session)
		if errors.Is(err, domain.ErrJoinCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		e.publishCourse(ctx, session.CourseID, domain.CourseOpCreate, session.Summary())
		return session, nil
	}
	return nil, fmt.Errorf("create session: %w", domain.ErrJoinCodeTaken)
}

// RegenerateCode replaces the join code while the session is in the lobby.
func (e *Engine) RegenerateCode(ctx context.Context, sessionID, hostID int64) (string, error) {
	ctx = context.WithoutCancel(ctx)
	var code string
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		err := e.store.WithLock(ctx, sessionID, func(tx *SessionTx) error {
			s := tx.Session
			if !s.IsHost(hostID) {
				return domain.NotHost("regenerate the join code")
			}
			if s.State() != domain.StateLobby {
				return domain.InvalidTransition("regenerate_code", s.State())
			}
			s.Details.JoinCode = e.codes()
			code = s.Details.JoinCode
			tx.MarkDirty()
			tx.AfterCommit(func() {
				e.publishCourse(ctx, s.CourseID, domain.CourseOpUpdate, s.Summary())
			})
			return nil
		})
		if errors.Is(err, domain.ErrJoinCodeTaken) {
			continue
		}
		return code, err
	}
	return "", fmt.Errorf("regenerate code: %w", domain.ErrJoinCodeTaken)
}

// JoinLobby puts user in the waiting room. Once the session has started the
// user becomes a participant directly. It returns the lobby listing.
func (e *Engine) JoinLobby(ctx context.Context, sessionID int64, user domain.UserRef) ([]domain.UserRef, error) {
	ctx = context.WithoutCancel(ctx)
	var lobby []domain.UserRef
	err := e.store.WithLock(ctx, sessionID, func(tx *SessionTx) error {
		s := tx.Session
		if s.IsHost(user.ID) {
			return domain.InvalidTransition("join_lobby by the host", s.State())
		}

		if s.State() == domain.StateLobby {
			if s.AddToLobby(user) {
				tx.MarkDirty()
				refs := s.LobbyRefs()
				tx.AfterCommit(func() {
					e.publishUpdate(ctx, s.ID, domain.SessionDelta{LobbyUsers: &refs})
				})
			}
			lobby = s.LobbyRefs()
			return nil
		}

		if _, created := s.EnsureParticipant(user, e.now()); created {
			tx.MarkDirty()
			refs := s.ParticipantRefs()
			tx.AfterCommit(func() {
				e.publishUpdate(ctx, s.ID, domain.SessionDelta{Participants: &refs})
			})
		}
		lobby = s.LobbyRefs()
		return nil
	})
	return lobby, err
}

// Admit moves user from the lobby to the participants. Admitting a user that
// never joined the lobby still creates the participant.
func (e *Engine) Admit(ctx context.Context, sessionID, hostID int64, user domain.UserRef) ([]domain.UserRef, error) {
	ctx = context.WithoutCancel(ctx)
	var lobby []domain.UserRef
	err := e.store.WithLock(ctx, sessionID, func(tx *SessionTx) error {
		s := tx.Session
		if !s.IsHost(hostID) {
			return domain.NotHost("admit")
		}
		if s.State() != domain.StateLobby {
			return domain.InvalidTransition("admit", s.State())
		}
		if s.IsHost(user.ID) {
			return domain.InvalidTransition("admit the host", s.State())
		}

		if waiting, ok := s.RemoveFromLobby(user.ID); ok && user.Name == "" {
			user.Name = waiting.Name
		}
		s.EnsureParticipant(user, e.now())
		tx.MarkDirty()

		lobby = s.LobbyRefs()
		participants := s.ParticipantRefs()
		tx.AfterCommit(func() {
			e.publishUpdate(ctx, s.ID, domain.SessionDelta{LobbyUsers: &lobby, Participants: &participants})
			e.publishEvent(ctx, s.ID, domain.SessionEvent{Kind: domain.EventAdmitted, UserID: user.ID})
		})
		return nil
	})
	return lobby, err
}

// Start snapshots the quiz content, converts the lobby into participants and
// points the cursor at the first question. Starting twice is a no-op.
func (e *Engine) Start(ctx context.Context, sessionID, hostID int64) (Progress, error) {
	ctx = context.WithoutCancel(ctx)

	current, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return Progress{}, err
	}
	if !current.IsHost(hostID) {
		return Progress{}, domain.NotHost("start")
	}

	// Content is read before taking the lock; it is only applied if the
	// session is still in the lobby once the lock is held.
	var questions domain.Questions
	var contentErr error
	if current.State() == domain.StateLobby {
		quiz, err := e.quizzes.GetQuiz(ctx, current.QuizID)
		if err != nil {
			return Progress{}, err
		}
		questions, contentErr = domain.SnapshotQuestions(quiz.Items)
	}

	var progress Progress
	err = e.store.WithLock(ctx, sessionID, func(tx *SessionTx) error {
		s := tx.Session
		if s.State() != domain.StateLobby {
			progress.CurrentIndex, progress.Total = s.Progress()
			return nil
		}
		if contentErr != nil {
			return contentErr
		}

		now := e.now()
		s.StartedAt = &now
		for _, u := range s.Details.Lobby {
			s.EnsureParticipant(u, now)
		}
		s.Details.Lobby = []domain.UserRef{}
		s.Questions = questions
		s.Details.TotalQuestions = len(questions)
		s.Details.CurrentIndex = -1
		if len(questions) > 0 {
			s.Details.CurrentIndex = 0
		}
		tx.MarkDirty()

		progress.CurrentIndex, progress.Total = s.Progress()
		participants := s.ParticipantRefs()
		summary := s.Summary()
		tx.AfterCommit(func() {
			e.publishUpdate(ctx, s.ID, domain.SessionDelta{
				Started:      domain.Ptr(true),
				CurrentIndex: domain.Ptr(progress.CurrentIndex),
				Total:        domain.Ptr(progress.Total),
				LobbyUsers:   &[]domain.UserRef{},
				Participants: &participants,
			})
			e.publishEvent(ctx, s.ID, domain.SessionEvent{Kind: domain.EventStarted})
			e.publishCourse(ctx, s.CourseID, domain.CourseOpUpdate, summary)
		})
		return nil
	})
	return progress, err
}

// Advance moves to the next question, or ends the session after the last one.
func (e *Engine) Advance(ctx context.Context, sessionID, hostID int64) (AdvanceResult, error) {
	ctx = context.WithoutCancel(ctx)
	var res AdvanceResult
	err := e.store.WithLock(ctx, sessionID, func(tx *SessionTx) error {
		s := tx.Session
		if !s.IsHost(hostID) {
			return domain.NotHost("advance")
		}
		if s.State() != domain.StateRunning {
			return domain.InvalidTransition("next", s.State())
		}

		idx, total := s.Progress()
		if idx >= 0 && idx < total-1 {
			s.Details.CurrentIndex = idx + 1
			tx.MarkDirty()
			res = AdvanceResult{Kind: AdvanceNext, CurrentIndex: idx + 1, Total: total}
			tx.AfterCommit(func() {
				e.publishUpdate(ctx, s.ID, domain.SessionDelta{
					CurrentIndex: domain.Ptr(res.CurrentIndex),
					Total:        domain.Ptr(res.Total),
				})
				e.publishEvent(ctx, s.ID, domain.SessionEvent{Kind: domain.EventQuestionChanged})
			})
			return nil
		}

		e.finish(ctx, tx)
		res = AdvanceResult{Kind: AdvanceEnded, CurrentIndex: -1, Total: total, Leaderboard: s.Leaderboard}
		return nil
	})
	return res, err
}

// End force-ends a running session. Ending an ended session recomputes the
// same leaderboard and announces it again.
func (e *Engine) End(ctx context.Context, sessionID, hostID int64) ([]domain.LeaderboardEntry, error) {
	ctx = context.WithoutCancel(ctx)
	var board []domain.LeaderboardEntry
	err := e.store.WithLock(ctx, sessionID, func(tx *SessionTx) error {
		s := tx.Session
		if !s.IsHost(hostID) {
			return domain.NotHost("end")
		}
		if s.State() == domain.StateLobby {
			return domain.InvalidTransition("end", s.State())
		}
		e.finish(ctx, tx)
		board = s.Leaderboard
		return nil
	})
	return board, err
}

// finish ends the session held by tx and queues the closing broadcasts.
func (e *Engine) finish(ctx context.Context, tx *SessionTx) {
	s := tx.Session
	if s.EndedAt == nil {
		now := e.now()
		s.EndedAt = &now
	}
	s.Details.CurrentIndex = -1
	s.Leaderboard = ComputeLeaderboard(s.Participants)
	tx.MarkDirty()

	board := s.Leaderboard
	tx.AfterCommit(func() {
		e.publishUpdate(ctx, s.ID, domain.SessionDelta{Ended: domain.Ptr(true), Leaderboard: &board})
		e.publishCourse(ctx, s.CourseID, domain.CourseOpRemove, domain.CourseSessionSummary{ID: s.ID})
	})
}

// AnswerStatus is the outcome of a submission. None of them are errors.
type AnswerStatus string

const (
	AnswerOK      AnswerStatus = "ok"
	AnswerAlready AnswerStatus = "already"
	AnswerEnded   AnswerStatus = "ended"
)

type AnswerOutcome struct {
	Status        AnswerStatus
	Points        int
	QuestionIndex int
}

// MarshalJSON renders {"ok":true,"points":n}, {"already":true} or {"ended":true}.
func (o AnswerOutcome) MarshalJSON() ([]byte, error) {
	switch o.Status {
	case AnswerOK:
		return []byte(fmt.Sprintf(`{"ok":true,"points":%d}`, o.Points)), nil
	case AnswerAlready:
		return []byte(`{"already":true}`), nil
	default:
		return []byte(`{"ended":true}`), nil
	}
}

// SubmitAnswer scores selected against the question at the live cursor. The
// first submission per question is final.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID int64, user domain.UserRef, selected domain.Selection) (AnswerOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	var out AnswerOutcome
	err := e.store.WithLock(ctx, sessionID, func(tx *SessionTx) error {
		s := tx.Session
		switch s.State() {
		case domain.StateLobby:
			return domain.InvalidTransition("answer", s.State())
		case domain.StateEnded:
			out = AnswerOutcome{Status: AnswerEnded, QuestionIndex: -1}
			return nil
		}
		if s.IsHost(user.ID) {
			return domain.InvalidTransition("answer by the host", s.State())
		}

		p, created := s.EnsureParticipant(user, e.now())
		if created {
			tx.MarkDirty()
			refs := s.ParticipantRefs()
			tx.AfterCommit(func() {
				e.publishUpdate(ctx, s.ID, domain.SessionDelta{Participants: &refs})
			})
		}

		idx, total := s.Progress()
		if idx < 0 || idx >= total || idx >= len(s.Questions) {
			out = AnswerOutcome{Status: AnswerEnded, QuestionIndex: -1}
			return nil
		}
		if _, ok := p.Answer(idx); ok {
			out = AnswerOutcome{Status: AnswerAlready, QuestionIndex: idx}
			return nil
		}

		points := Evaluate(s.Questions[idx], selected)
		p.Answers = append(p.Answers, domain.AnswerRecord{
			QuestionIndex: idx,
			Points:        points,
			Selected:      append([]int{}, selected...),
		})
		tx.MarkDirty()
		out = AnswerOutcome{Status: AnswerOK, Points: points, QuestionIndex: idx}
		return nil
	})
	return out, err
}

func (e *Engine) publishUpdate(ctx context.Context, sessionID int64, delta domain.SessionDelta) {
	if err := e.bus.PublishSessionUpdate(ctx, sessionID, delta); err != nil {
		slog.Error("publish session update", "session", sessionID, "error", err)
	}
}

func (e *Engine) publishEvent(ctx context.Context, sessionID int64, ev domain.SessionEvent) {
	if err := e.bus.PublishSessionEvent(ctx, sessionID, ev); err != nil {
		slog.Error("publish session event", "session", sessionID, "kind", ev.Kind, "error", err)
	}
}

func (e *Engine) publishCourse(ctx context.Context, courseID int64, op domain.CourseOp, summary domain.CourseSessionSummary) {
	if err := e.bus.PublishCourseEvent(ctx, courseID, op, summary); err != nil {
		slog.Error("publish course event", "course", courseID, "op", op, "error", err)
	}
}
