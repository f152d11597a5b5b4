package domain

import (
	"strings"
	"time"
)

// UserRef identifies a user together with the name shown in listings.
type UserRef struct {
	ID   int64  `json:"user_id"`
	Name string `json:"name"`
}

// User is a row of the external user directory.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Superuser bool   `json:"-"`
}

// DisplayName prefers the full name and falls back to the username.
func (u User) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return u.Username
}

func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.DisplayName()}
}

// Role is a user's role inside an organization.
type Role string

const (
	RoleSuperuser Role = "superuser"
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleTeacher   Role = "teacher"
	RoleStudent   Role = "student"
	RoleParents   Role = "parents"
)

// Membership binds a user to an organization with a role.
type Membership struct {
	UserID int64 `json:"user_id"`
	OrgID  int64 `json:"org_id"`
	Role   Role  `json:"role"`
}

// Course is the parent of quizzes and live sessions.
type Course struct {
	ID               int64   `json:"id"`
	OrgID            int64   `json:"org_id"`
	TeacherID        int64   `json:"teacher_id"`
	Title            string  `json:"title"`
	EnrolledStudents []int64 `json:"enrolled_students"`
}

func (c Course) IsEnrolled(userID int64) bool {
	for _, id := range c.EnrolledStudents {
		if id == userID {
			return true
		}
	}
	return false
}

// SessionState is derived from the lifecycle timestamps of a LiveSession.
type SessionState int

const (
	StateLobby SessionState = iota
	StateRunning
	StateEnded
)

func (s SessionState) String() string {
	switch s {
	case StateLobby:
		return "lobby"
	case StateRunning:
		return "running"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// SessionDetails is the mutable bag of a live session.
type SessionDetails struct {
	JoinCode       string    `json:"join_code"`
	Lobby          []UserRef `json:"lobby"`
	CurrentIndex   int       `json:"current_index"`
	TotalQuestions int       `json:"total_questions"`
}

// LiveSession is one live run of a quiz.
type LiveSession struct {
	ID        int64          `json:"id"`
	QuizID    int64          `json:"quiz_id"`
	CourseID  int64          `json:"course_id"`
	QuizTitle string         `json:"quiz_title"`
	Host      UserRef        `json:"host"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Details   SessionDetails `json:"details"`

	// Questions is the content snapshot taken at start.
	Questions Questions `json:"questions,omitempty"`
	// Participants are kept in creation order.
	Participants []*Participant     `json:"participants,omitempty"`
	Leaderboard  []LeaderboardEntry `json:"leaderboard,omitempty"`
}

// NewLiveSession returns a session in the lobby state.
func NewLiveSession(quiz QuizContent, host UserRef, joinCode string, now time.Time) *LiveSession {
	return &LiveSession{
		QuizID:    quiz.ID,
		CourseID:  quiz.CourseID,
		QuizTitle: quiz.Title,
		Host:      host,
		CreatedAt: now,
		Details: SessionDetails{
			JoinCode:     joinCode,
			Lobby:        []UserRef{},
			CurrentIndex: -1,
		},
	}
}

func (s *LiveSession) State() SessionState {
	switch {
	case s.EndedAt != nil:
		return StateEnded
	case s.StartedAt != nil:
		return StateRunning
	default:
		return StateLobby
	}
}

func (s *LiveSession) IsHost(userID int64) bool {
	return s.Host.ID == userID
}

// Progress returns the question cursor and the total question count.
func (s *LiveSession) Progress() (int, int) {
	return s.Details.CurrentIndex, s.Details.TotalQuestions
}

func (s *LiveSession) InLobby(userID int64) bool {
	for _, u := range s.Details.Lobby {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// AddToLobby appends the user unless already waiting. It reports whether the lobby changed.
func (s *LiveSession) AddToLobby(u UserRef) bool {
	if s.InLobby(u.ID) {
		return false
	}
	s.Details.Lobby = append(s.Details.Lobby, u)
	return true
}

// RemoveFromLobby reports whether the user was waiting.
func (s *LiveSession) RemoveFromLobby(userID int64) (UserRef, bool) {
	for i, u := range s.Details.Lobby {
		if u.ID == userID {
			s.Details.Lobby = append(s.Details.Lobby[:i:i], s.Details.Lobby[i+1:]...)
			return u, true
		}
	}
	return UserRef{}, false
}

func (s *LiveSession) Participant(userID int64) *Participant {
	for _, p := range s.Participants {
		if p.User.ID == userID {
			return p
		}
	}
	return nil
}

// EnsureParticipant returns the participant for u, creating it when absent.
func (s *LiveSession) EnsureParticipant(u UserRef, now time.Time) (*Participant, bool) {
	if p := s.Participant(u.ID); p != nil {
		return p, false
	}
	p := &Participant{User: u, JoinedAt: now, Answers: []AnswerRecord{}}
	s.Participants = append(s.Participants, p)
	return p, true
}

// ParticipantRefs lists participants in creation order.
func (s *LiveSession) ParticipantRefs() []UserRef {
	refs := make([]UserRef, 0, len(s.Participants))
	for _, p := range s.Participants {
		refs = append(refs, p.User)
	}
	return refs
}

// LobbyRefs returns a copy of the waiting room in join order.
func (s *LiveSession) LobbyRefs() []UserRef {
	return append(make([]UserRef, 0, len(s.Details.Lobby)), s.Details.Lobby...)
}

// Summary is the row shown on the course page.
func (s *LiveSession) Summary() CourseSessionSummary {
	return CourseSessionSummary{
		ID:        s.ID,
		QuizTitle: s.QuizTitle,
		HostName:  s.Host.Name,
		StartedAt: s.StartedAt,
		JoinCode:  s.Details.JoinCode,
	}
}

// Clone deep-copies the session so a stored value never aliases a caller's copy.
func (s *LiveSession) Clone() *LiveSession {
	if s == nil {
		return nil
	}
	c := *s
	c.StartedAt = cloneTime(s.StartedAt)
	c.EndedAt = cloneTime(s.EndedAt)
	c.Details.Lobby = append([]UserRef{}, s.Details.Lobby...)
	c.Questions = append(Questions(nil), s.Questions...)
	c.Participants = make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		c.Participants = append(c.Participants, p.Clone())
	}
	c.Leaderboard = append([]LeaderboardEntry(nil), s.Leaderboard...)
	return &c
}

// Participant is one (session, user) pair.
type Participant struct {
	User     UserRef        `json:"user"`
	JoinedAt time.Time      `json:"joined_at"`
	LeftAt   *time.Time     `json:"left_at,omitempty"`
	Answers  []AnswerRecord `json:"answers"`
}

// Answer returns the record for a question index if one exists.
func (p *Participant) Answer(questionIndex int) (AnswerRecord, bool) {
	for _, a := range p.Answers {
		if a.QuestionIndex == questionIndex {
			return a, true
		}
	}
	return AnswerRecord{}, false
}

func (p *Participant) Score() int {
	total := 0
	for _, a := range p.Answers {
		total += a.Points
	}
	return total
}

func (p *Participant) Clone() *Participant {
	c := *p
	c.LeftAt = cloneTime(p.LeftAt)
	c.Answers = make([]AnswerRecord, 0, len(p.Answers))
	for _, a := range p.Answers {
		a.Selected = append([]int{}, a.Selected...)
		c.Answers = append(c.Answers, a)
	}
	return &c
}

// AnswerRecord is one participant's scored response to one question.
type AnswerRecord struct {
	QuestionIndex int   `json:"question_id"`
	Points        int   `json:"points"`
	Selected      []int `json:"selected"`
}

// LeaderboardEntry is a ranked score row; it is always recomputed wholesale.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	Score  int    `json:"score"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// CourseSessionSummary is broadcast on the course topic.
type CourseSessionSummary struct {
	ID        int64      `json:"id"`
	QuizTitle string     `json:"quiz_title"`
	HostName  string     `json:"host_name"`
	StartedAt *time.Time `json:"started_at"`
	JoinCode  string     `json:"join_code"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
