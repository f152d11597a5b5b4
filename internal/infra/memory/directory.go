package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// Directory is an in-memory user/course/membership store.
type Directory struct {
	mu          sync.RWMutex
	users       map[int64]domain.User
	courses     map[int64]domain.Course
	memberships map[int64]domain.Membership
}

func NewDirectory() *Directory {
	return &Directory{
		users:       make(map[int64]domain.User),
		courses:     make(map[int64]domain.Course),
		memberships: make(map[int64]domain.Membership),
	}
}

func (d *Directory) AddUser(u domain.User, m *domain.Membership) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	if m != nil {
		d.memberships[u.ID] = *m
	}
}

func (d *Directory) AddCourse(c domain.Course) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.courses[c.ID] = c
}

func (d *Directory) User(_ context.Context, id int64) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (d *Directory) Course(_ context.Context, id int64) (domain.Course, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.courses[id]
	if !ok {
		return domain.Course{}, domain.ErrCourseNotFound
	}
	return c, nil
}

func (d *Directory) Membership(_ context.Context, userID int64) (domain.Membership, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.memberships[userID]
	return m, ok, nil
}

// SampleData is the demo dataset used when no Postgres is configured.
// User 1 is a superuser, 2 teaches course 1, 3 to 5 are enrolled students.
func SampleData() (*Directory, *StaticQuizLoader) {
	d := NewDirectory()
	d.AddUser(domain.User{ID: 1, Username: "admin", Superuser: true}, nil)
	d.AddUser(domain.User{ID: 2, Username: "teacher", FirstName: "Tess", LastName: "Teacher"},
		&domain.Membership{UserID: 2, OrgID: 1, Role: domain.RoleTeacher})
	for _, u := range []domain.User{
		{ID: 3, Username: "alice", FirstName: "Alice"},
		{ID: 4, Username: "bob", FirstName: "Bob"},
		{ID: 5, Username: "carol", FirstName: "Carol"},
	} {
		d.AddUser(u, &domain.Membership{UserID: u.ID, OrgID: 1, Role: domain.RoleStudent})
	}
	d.AddCourse(domain.Course{ID: 1, OrgID: 1, TeacherID: 2, Title: "Arithmetic", EnrolledStudents: []int64{3, 4, 5}})

	quizzes := NewStaticQuizLoader(domain.QuizContent{
		ID:       1,
		CourseID: 1,
		Title:    "Warm-up",
		Items: []domain.ContentItem{
			{
				Question:     "What is 2 + 2?",
				QuestionType: string(domain.QuestionSingle),
				Choices: []domain.ContentChoice{
					{Text: "3"},
					{Text: "4", IsCorrect: true},
					{Text: "5"},
				},
			},
			{
				Question:     "Which numbers are even?",
				QuestionType: string(domain.QuestionMulti),
				Choices: []domain.ContentChoice{
					{Text: "2", IsCorrect: true},
					{Text: "3"},
					{Text: "4", IsCorrect: true},
				},
			},
		},
	})
	return d, quizzes
}
