package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// Directory reads users, memberships and courses owned by the wider platform.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) User(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	err := d.pool.QueryRow(ctx,
		`SELECT id, username, first_name, last_name, email, is_superuser FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &u.Superuser)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("%w: %d", domain.ErrUserNotFound, id)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func (d *Directory) Membership(ctx context.Context, userID int64) (domain.Membership, bool, error) {
	m := domain.Membership{UserID: userID}
	var role string
	err := d.pool.QueryRow(ctx,
		`SELECT org_id, role FROM memberships WHERE user_id=$1`, userID,
	).Scan(&m.OrgID, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Membership{}, false, nil
	}
	if err != nil {
		return domain.Membership{}, false, fmt.Errorf("load membership: %w", err)
	}
	m.Role = domain.Role(role)
	return m, true, nil
}

func (d *Directory) Course(ctx context.Context, id int64) (domain.Course, error) {
	c := domain.Course{ID: id}
	var teacher *int64
	err := d.pool.QueryRow(ctx,
		`SELECT org_id, teacher_id, title FROM courses WHERE id=$1`, id,
	).Scan(&c.OrgID, &teacher, &c.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Course{}, fmt.Errorf("%w: %d", domain.ErrCourseNotFound, id)
	}
	if err != nil {
		return domain.Course{}, fmt.Errorf("load course: %w", err)
	}
	if teacher != nil {
		c.TeacherID = *teacher
	}

	rows, err := d.pool.Query(ctx,
		`SELECT user_id FROM course_students WHERE course_id=$1 ORDER BY user_id`, id)
	if err != nil {
		return domain.Course{}, fmt.Errorf("load enrollments: %w", err)
	}
	defer rows.Close()
	c.EnrolledStudents = []int64{}
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return domain.Course{}, fmt.Errorf("scan enrollment: %w", err)
		}
		c.EnrolledStudents = append(c.EnrolledStudents, uid)
	}
	if err := rows.Err(); err != nil {
		return domain.Course{}, fmt.Errorf("load enrollments: %w", err)
	}
	return c, nil
}
