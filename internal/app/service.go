package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"live-quiz-service/internal/domain"
)

// Directory reads users, courses and org memberships from the relational store.
type Directory interface {
	User(ctx context.Context, id int64) (domain.User, error)
	Course(ctx context.Context, id int64) (domain.Course, error)
	Membership(ctx context.Context, userID int64) (domain.Membership, bool, error)
}

// Authorizer is the capability lookup. Every method is a pure allow/deny.
type Authorizer interface {
	CanHostSession(ctx context.Context, userID int64, s *domain.LiveSession) bool
	CanReadSession(ctx context.Context, userID int64, s *domain.LiveSession) bool
	CanViewCourse(ctx context.Context, userID int64, course domain.Course) bool
	CanViewAnswers(ctx context.Context, userID int64, s *domain.LiveSession) bool
}

// ActionObserver is notified once per dispatched control action.
type ActionObserver func(action, outcome string)

// Control actions accepted by Perform.
const (
	ActionJoinLobby      = "join_lobby"
	ActionAdmit          = "admit"
	ActionStart          = "start"
	ActionNext           = "next"
	ActionEnd            = "end"
	ActionAnswer         = "answer"
	ActionRegenerateCode = "regenerate_code"
)

var knownActions = map[string]bool{
	ActionJoinLobby:      true,
	ActionAdmit:          true,
	ActionStart:          true,
	ActionNext:           true,
	ActionEnd:            true,
	ActionAnswer:         true,
	ActionRegenerateCode: true,
}

// Command is one inbound control action, identical for the socket and REST.
type Command struct {
	Action   string          `json:"action"`
	UserID   int64           `json:"user_id,omitempty"`
	Selected json.RawMessage `json:"selected,omitempty"`
}

// Result carries whatever the action produced; unused fields stay empty.
type Result struct {
	Action      string                    `json:"action"`
	Ignored     bool                      `json:"ignored,omitempty"`
	LobbyUsers  []domain.UserRef          `json:"lobby_users,omitempty"`
	Progress    *Progress                 `json:"progress,omitempty"`
	Advance     *AdvanceResult            `json:"advance,omitempty"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard,omitempty"`
	Answer      *AnswerOutcome            `json:"answer,omitempty"`
	JoinCode    string                    `json:"join_code,omitempty"`
}

// Service is the entry point for both control surfaces. It resolves
// identities, consults the authorizer and dispatches to the Engine.
type Service struct {
	engine    *Engine
	store     *SessionStore
	quizzes   QuizRepository
	directory Directory
	authz     Authorizer
	observe   ActionObserver
}

func NewService(engine *Engine, store *SessionStore, quizzes QuizRepository, directory Directory, authz Authorizer, observe ActionObserver) *Service {
	if observe == nil {
		observe = func(string, string) {}
	}
	return &Service{
		engine:    engine,
		store:     store,
		quizzes:   quizzes,
		directory: directory,
		authz:     authz,
		observe:   observe,
	}
}

// Identify resolves a user id to its display reference.
func (s *Service) Identify(ctx context.Context, userID int64) (domain.UserRef, error) {
	u, err := s.directory.User(ctx, userID)
	if err != nil {
		return domain.UserRef{}, err
	}
	return u.Ref(), nil
}

// CreateSession opens a new lobby for quizID hosted by actor.
func (s *Service) CreateSession(ctx context.Context, actor domain.UserRef, quizID int64) (*domain.LiveSession, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	candidate := domain.NewLiveSession(quiz, actor, "", s.engine.now())
	if !s.authz.CanHostSession(ctx, actor.ID, candidate) {
		return nil, fmt.Errorf("%w: cannot host quiz %d", domain.ErrForbidden, quizID)
	}
	session, err := s.engine.Create(ctx, actor, quiz)
	if err != nil {
		return nil, err
	}
	slog.Info("live session created", "session", session.ID, "quiz", quizID, "host", actor.ID)
	return session, nil
}

// OpenSession loads a session the actor may read.
func (s *Service) OpenSession(ctx context.Context, actor domain.UserRef, sessionID int64) (*domain.LiveSession, error) {
	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanReadSession(ctx, actor.ID, session) {
		return nil, fmt.Errorf("%w: cannot read session %d", domain.ErrForbidden, sessionID)
	}
	return session, nil
}

// JoinByCode resolves a join code and joins the session behind it.
func (s *Service) JoinByCode(ctx context.Context, actor domain.UserRef, code string) (*domain.LiveSession, []domain.UserRef, error) {
	session, err := s.store.FindByJoinCode(ctx, NormalizeJoinCode(code))
	if err != nil {
		return nil, nil, err
	}
	if !s.authz.CanReadSession(ctx, actor.ID, session) {
		return nil, nil, fmt.Errorf("%w: cannot join session %d", domain.ErrForbidden, session.ID)
	}
	res, err := s.Perform(ctx, actor, session.ID, Command{Action: ActionJoinLobby})
	if err != nil {
		return nil, nil, err
	}
	return session, res.LobbyUsers, nil
}

// Perform dispatches one control action. Missing or unknown actions are
// ignored rather than rejected.
func (s *Service) Perform(ctx context.Context, actor domain.UserRef, sessionID int64, cmd Command) (Result, error) {
	res, err := s.perform(ctx, actor, sessionID, cmd)
	switch {
	case err != nil:
		s.observe(cmd.Action, "error")
		slog.Warn("control action rejected", "session", sessionID, "user", actor.ID, "action", cmd.Action, "error", err)
	case res.Ignored:
		s.observe("unknown", "ignored")
	default:
		s.observe(cmd.Action, "ok")
	}
	return res, err
}

func (s *Service) perform(ctx context.Context, actor domain.UserRef, sessionID int64, cmd Command) (Result, error) {
	res := Result{Action: cmd.Action}
	if !knownActions[cmd.Action] {
		res.Ignored = true
		return res, nil
	}
	// Both control surfaces pass through here, so read access is checked
	// once for every action.
	if _, err := s.OpenSession(ctx, actor, sessionID); err != nil {
		return res, err
	}

	var err error
	switch cmd.Action {
	case ActionJoinLobby:
		res.LobbyUsers, err = s.engine.JoinLobby(ctx, sessionID, actor)
	case ActionAdmit:
		var target domain.UserRef
		target, err = s.Identify(ctx, cmd.UserID)
		if err != nil {
			return res, err
		}
		res.LobbyUsers, err = s.engine.Admit(ctx, sessionID, actor.ID, target)
	case ActionStart:
		var p Progress
		p, err = s.engine.Start(ctx, sessionID, actor.ID)
		res.Progress = &p
	case ActionNext:
		var adv AdvanceResult
		adv, err = s.engine.Advance(ctx, sessionID, actor.ID)
		res.Advance = &adv
		res.Leaderboard = adv.Leaderboard
	case ActionEnd:
		res.Leaderboard, err = s.engine.End(ctx, sessionID, actor.ID)
		if res.Leaderboard == nil {
			res.Leaderboard = []domain.LeaderboardEntry{}
		}
	case ActionAnswer:
		var out AnswerOutcome
		out, err = s.engine.SubmitAnswer(ctx, sessionID, actor, ParseSelection(cmd.Selected))
		res.Answer = &out
	case ActionRegenerateCode:
		res.JoinCode, err = s.engine.RegenerateCode(ctx, sessionID, actor.ID)
	}
	if err != nil {
		return Result{Action: cmd.Action}, err
	}
	return res, nil
}

// Snapshot is the full view sent to a freshly opened connection.
type Snapshot struct {
	SessionID    int64                     `json:"session_id"`
	QuizTitle    string                    `json:"quiz_title"`
	IsHost       bool                      `json:"is_host"`
	Started      bool                      `json:"started"`
	Ended        bool                      `json:"ended"`
	CurrentIndex int                       `json:"current_index"`
	Total        int                       `json:"total"`
	LobbyUsers   []domain.UserRef          `json:"lobby_users"`
	Participants []domain.UserRef          `json:"participants"`
	JoinCode     string                    `json:"join_code,omitempty"`
	Leaderboard  []domain.LeaderboardEntry `json:"leaderboard,omitempty"`
}

// SnapshotOf builds the view of session for viewerID. The join code is
// only shown to the host.
func SnapshotOf(session *domain.LiveSession, viewerID int64) Snapshot {
	idx, total := session.Progress()
	snap := Snapshot{
		SessionID:    session.ID,
		QuizTitle:    session.QuizTitle,
		IsHost:       session.IsHost(viewerID),
		Started:      session.StartedAt != nil,
		Ended:        session.EndedAt != nil,
		CurrentIndex: idx,
		Total:        total,
		LobbyUsers:   session.LobbyRefs(),
		Participants: session.ParticipantRefs(),
	}
	if snap.IsHost {
		snap.JoinCode = session.Details.JoinCode
	}
	if snap.Ended {
		snap.Leaderboard = session.Leaderboard
	}
	return snap
}

// Snapshot reads without the session lock; a delta may follow immediately.
func (s *Service) Snapshot(ctx context.Context, actor domain.UserRef, sessionID int64) (Snapshot, error) {
	session, err := s.OpenSession(ctx, actor, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return SnapshotOf(session, actor.ID), nil
}

// QuestionView is the current question as shown to a player. Correctness
// is never included.
type QuestionView struct {
	State    string              `json:"state"`
	Index    int                 `json:"current_index"`
	Total    int                 `json:"total"`
	Type     domain.QuestionType `json:"question_type,omitempty"`
	Prompt   string              `json:"question,omitempty"`
	Image    string              `json:"image,omitempty"`
	Choices  []string            `json:"choices,omitempty"`
	Answered bool                `json:"answered"`
	Selected []int               `json:"selected,omitempty"`
}

func (s *Service) CurrentQuestion(ctx context.Context, actor domain.UserRef, sessionID int64) (QuestionView, error) {
	session, err := s.OpenSession(ctx, actor, sessionID)
	if err != nil {
		return QuestionView{}, err
	}

	idx, total := session.Progress()
	view := QuestionView{State: session.State().String(), Index: idx, Total: total}
	if session.State() != domain.StateRunning || idx < 0 || idx >= len(session.Questions) {
		return view, nil
	}

	q := session.Questions[idx]
	view.Type = q.Type()
	view.Prompt = q.Prompt()
	view.Image = q.Image()
	for _, ch := range q.Choices() {
		view.Choices = append(view.Choices, ch.Text)
	}
	if p := session.Participant(actor.ID); p != nil {
		if a, ok := p.Answer(idx); ok {
			view.Answered = true
			view.Selected = a.Selected
		}
	}
	return view, nil
}

// Leaderboard returns the stored board of an ended session, or a board
// computed on the fly while running. It is never persisted here.
func (s *Service) Leaderboard(ctx context.Context, actor domain.UserRef, sessionID int64) ([]domain.LeaderboardEntry, error) {
	session, err := s.OpenSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State() == domain.StateEnded {
		return session.Leaderboard, nil
	}
	return ComputeLeaderboard(session.Participants), nil
}

// CourseSessions lists the non-ended sessions of a course: lobbies first,
// then most recently started.
func (s *Service) CourseSessions(ctx context.Context, actor domain.UserRef, courseID int64) ([]domain.CourseSessionSummary, error) {
	course, err := s.directory.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanViewCourse(ctx, actor.ID, course) {
		return nil, fmt.Errorf("%w: cannot view course %d", domain.ErrForbidden, courseID)
	}

	sessions, err := s.store.ListOngoing(ctx, courseID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		switch {
		case a.StartedAt == nil && b.StartedAt == nil:
		case a.StartedAt == nil:
			return true
		case b.StartedAt == nil:
			return false
		case !a.StartedAt.Equal(*b.StartedAt):
			return a.StartedAt.After(*b.StartedAt)
		}
		return a.ID > b.ID
	})

	out := make([]domain.CourseSessionSummary, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.Summary())
	}
	return out, nil
}
