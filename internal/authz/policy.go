// Package authz decides who may host, join and inspect live sessions.
// Roles come from org memberships; a superuser bypasses org scoping.
package authz

import (
	"context"
	"log/slog"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Resource names a kind of object an action applies to.
type Resource string

const (
	ResourceCourse          Resource = "course"
	ResourceQuiz            Resource = "quiz"
	ResourceLiveSession     Resource = "livesession"
	ResourceLiveParticipant Resource = "liveparticipant"
	ResourceLiveLeaderboard Resource = "liveleaderboard"
)

// Action is a verb in the role table.
type Action string

const (
	ActionCreate    Action = "create"
	ActionReadAll   Action = "read_all"
	ActionReadOne   Action = "read_one"
	ActionUpdateOne Action = "update_one"
	ActionDeleteAll Action = "delete_all"
	ActionDeleteOne Action = "delete_one"
)

type actionSet map[Action]struct{}

func actions(list ...Action) actionSet {
	s := make(actionSet, len(list))
	for _, a := range list {
		s[a] = struct{}{}
	}
	return s
}

var all = []Action{ActionCreate, ActionReadAll, ActionReadOne, ActionUpdateOne, ActionDeleteAll, ActionDeleteOne}

var roleActions = map[domain.Role]map[Resource]actionSet{
	domain.RoleAdmin: {
		ResourceCourse:          actions(all...),
		ResourceQuiz:            actions(all...),
		ResourceLiveSession:     actions(all...),
		ResourceLiveParticipant: actions(all...),
		ResourceLiveLeaderboard: actions(all...),
	},
	domain.RoleManager: {
		ResourceCourse:          actions(ActionCreate, ActionReadAll, ActionReadOne, ActionUpdateOne),
		ResourceQuiz:            actions(all...),
		ResourceLiveSession:     actions(all...),
		ResourceLiveParticipant: actions(ActionReadAll, ActionReadOne),
		ResourceLiveLeaderboard: actions(ActionReadAll, ActionReadOne),
	},
	domain.RoleTeacher: {
		ResourceCourse:          actions(ActionReadAll, ActionReadOne),
		ResourceQuiz:            actions(all...),
		ResourceLiveSession:     actions(all...),
		ResourceLiveParticipant: actions(ActionReadAll, ActionReadOne),
		ResourceLiveLeaderboard: actions(ActionReadAll, ActionReadOne),
	},
	domain.RoleStudent: {
		ResourceCourse:          actions(ActionReadAll, ActionReadOne),
		ResourceQuiz:            actions(ActionReadAll, ActionReadOne),
		ResourceLiveSession:     actions(ActionReadAll, ActionReadOne),
		ResourceLiveParticipant: actions(ActionReadAll),
		ResourceLiveLeaderboard: actions(ActionReadAll),
	},
	domain.RoleParents: {
		ResourceCourse:          actions(ActionReadAll, ActionReadOne),
		ResourceQuiz:            actions(ActionReadAll, ActionReadOne),
		ResourceLiveSession:     actions(ActionReadAll, ActionReadOne),
		ResourceLiveParticipant: actions(ActionReadAll),
		ResourceLiveLeaderboard: actions(ActionReadAll),
	},
}

// Allowed reports whether role may perform action on resource. Superusers
// may do anything.
func Allowed(role domain.Role, action Action, resource Resource) bool {
	if role == domain.RoleSuperuser {
		return true
	}
	_, ok := roleActions[role][resource][action]
	return ok
}

// Policy implements app.Authorizer over a Directory.
type Policy struct {
	dir app.Directory
}

var _ app.Authorizer = (*Policy)(nil)

func NewPolicy(dir app.Directory) *Policy {
	return &Policy{dir: dir}
}

// roleIn resolves the user's role inside org. An empty role means no access.
func (p *Policy) roleIn(ctx context.Context, userID, orgID int64) domain.Role {
	u, err := p.dir.User(ctx, userID)
	if err != nil {
		return ""
	}
	if u.Superuser {
		return domain.RoleSuperuser
	}
	m, ok, err := p.dir.Membership(ctx, userID)
	if err != nil {
		slog.Warn("membership lookup failed", "user", userID, "error", err)
		return ""
	}
	if !ok || m.OrgID != orgID {
		return ""
	}
	return m.Role
}

func (p *Policy) course(ctx context.Context, id int64) (domain.Course, bool) {
	c, err := p.dir.Course(ctx, id)
	if err != nil {
		slog.Warn("course lookup failed", "course", id, "error", err)
		return domain.Course{}, false
	}
	return c, true
}

// CanHostSession allows creating a session for the session's course.
// Teachers may only host in courses they teach.
func (p *Policy) CanHostSession(ctx context.Context, userID int64, s *domain.LiveSession) bool {
	c, ok := p.course(ctx, s.CourseID)
	if !ok {
		return false
	}
	role := p.roleIn(ctx, userID, c.OrgID)
	if !Allowed(role, ActionCreate, ResourceLiveSession) {
		return false
	}
	if role == domain.RoleTeacher {
		return c.TeacherID == userID
	}
	return true
}

func (p *Policy) CanReadSession(ctx context.Context, userID int64, s *domain.LiveSession) bool {
	if s.IsHost(userID) {
		return true
	}
	c, ok := p.course(ctx, s.CourseID)
	if !ok {
		return false
	}
	return Allowed(p.roleIn(ctx, userID, c.OrgID), ActionReadOne, ResourceLiveSession)
}

// CanViewCourse applies the course page rules: teachers see their own
// courses, students and parents only courses they are enrolled in.
func (p *Policy) CanViewCourse(ctx context.Context, userID int64, c domain.Course) bool {
	role := p.roleIn(ctx, userID, c.OrgID)
	if !Allowed(role, ActionReadOne, ResourceCourse) {
		return false
	}
	switch role {
	case domain.RoleTeacher:
		return c.TeacherID == userID
	case domain.RoleStudent, domain.RoleParents:
		return c.IsEnrolled(userID)
	default:
		return true
	}
}

// CanViewAnswers gates the per-participant answers report. Teachers need to
// be the host; students and parents never see it.
func (p *Policy) CanViewAnswers(ctx context.Context, userID int64, s *domain.LiveSession) bool {
	c, ok := p.course(ctx, s.CourseID)
	if !ok {
		return false
	}
	role := p.roleIn(ctx, userID, c.OrgID)
	if !Allowed(role, ActionReadOne, ResourceLiveSession) {
		return false
	}
	switch role {
	case domain.RoleTeacher:
		return s.IsHost(userID)
	case domain.RoleStudent, domain.RoleParents:
		return false
	default:
		return true
	}
}
