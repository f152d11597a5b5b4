package domain

import "sort"

// CourseOp is the kind of change announced on a course topic.
type CourseOp string

const (
	CourseOpCreate CourseOp = "create"
	CourseOpUpdate CourseOp = "update"
	CourseOpRemove CourseOp = "remove"
)

// SessionEventKind names one-shot notifications on a session topic.
type SessionEventKind string

const (
	EventStarted         SessionEventKind = "started"
	EventQuestionChanged SessionEventKind = "question_changed"
	EventAdmitted        SessionEventKind = "admitted"
)

// SessionEvent is ephemeral UI feedback; it is never replayed.
type SessionEvent struct {
	Kind   SessionEventKind `json:"kind"`
	UserID int64            `json:"user_id,omitempty"`
}

// SessionDelta is a sparse state change. Nil fields are absent on the wire,
// so receivers merge it into their view instead of replacing it.
type SessionDelta struct {
	Started      *bool               `json:"started,omitempty"`
	Ended        *bool               `json:"ended,omitempty"`
	CurrentIndex *int                `json:"current_index,omitempty"`
	Total        *int                `json:"total,omitempty"`
	LobbyUsers   *[]UserRef          `json:"lobby_users,omitempty"`
	Participants *[]UserRef          `json:"participants,omitempty"`
	Leaderboard  *[]LeaderboardEntry `json:"leaderboard,omitempty"`
}

// Ptr returns a pointer to v; it keeps delta literals short.
func Ptr[T any](v T) *T {
	return &v
}

// Selection is a normalized set of chosen choice indices, sorted ascending.
type Selection []int

// NewSelection removes duplicates and sorts.
func NewSelection(indexes ...int) Selection {
	seen := make(map[int]struct{}, len(indexes))
	out := make(Selection, 0, len(indexes))
	for _, i := range indexes {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Equal compares two normalized selections.
func (s Selection) Equal(other []int) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}
