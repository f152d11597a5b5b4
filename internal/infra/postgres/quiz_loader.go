package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// QuizLoader loads quiz content from Postgres. The items live in a JSONB
// column that content authors edit outside this service.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID int64) (domain.QuizContent, error) {
	quiz := domain.QuizContent{ID: quizID}
	var raw []byte
	err := l.pool.QueryRow(ctx,
		`SELECT course_id, title, data FROM quizzes WHERE id=$1`, quizID,
	).Scan(&quiz.CourseID, &quiz.Title, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizContent{}, fmt.Errorf("%w: %d", domain.ErrQuizNotFound, quizID)
	}
	if err != nil {
		return domain.QuizContent{}, fmt.Errorf("load quiz: %w", err)
	}
	if err := json.Unmarshal(raw, &quiz.Items); err != nil {
		return domain.QuizContent{}, fmt.Errorf("%w: quiz %d: %v", domain.ErrInvalidQuizContent, quizID, err)
	}
	return quiz, nil
}
