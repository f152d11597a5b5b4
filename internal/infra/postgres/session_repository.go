package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"live-quiz-service/internal/domain"
)

const joinCodeIndex = "live_sessions_join_code_uniq"

type sessionRow struct {
	bun.BaseModel `bun:"table:live_sessions,alias:s"`

	ID        int64                 `bun:"id,pk,autoincrement"`
	QuizID    int64                 `bun:"quiz_id"`
	CourseID  int64                 `bun:"course_id"`
	QuizTitle string                `bun:"quiz_title"`
	HostID    int64                 `bun:"host_id"`
	HostName  string                `bun:"host_name"`
	CreatedAt time.Time             `bun:"created_at"`
	StartedAt *time.Time            `bun:"started_at"`
	EndedAt   *time.Time            `bun:"ended_at"`
	Details   domain.SessionDetails `bun:"details,type:jsonb"`
	Questions domain.Questions      `bun:"questions,type:jsonb"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:live_participants,alias:p"`

	ID        int64                 `bun:"id,pk,autoincrement"`
	SessionID int64                 `bun:"session_id"`
	UserID    int64                 `bun:"user_id"`
	UserName  string                `bun:"user_name"`
	JoinedAt  time.Time             `bun:"joined_at"`
	LeftAt    *time.Time            `bun:"left_at"`
	Answers   []domain.AnswerRecord `bun:"answers,type:jsonb"`
}

type leaderboardRow struct {
	bun.BaseModel `bun:"table:live_leaderboard,alias:lb"`

	SessionID int64  `bun:"session_id,pk"`
	Rank      int    `bun:"rank,pk"`
	UserID    int64  `bun:"user_id"`
	Name      string `bun:"name"`
	Score     int    `bun:"score"`
}

// SessionRepository stores live sessions in three tables: the session row
// with its JSONB details and question snapshot, one row per participant and
// the ranked leaderboard. Join code uniqueness among live sessions is a
// partial unique index.
type SessionRepository struct {
	db *bun.DB
}

func NewSessionRepository(db *bun.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.LiveSession) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := toSessionRow(s)
		row.ID = 0
		if _, err := tx.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
			return mapWriteErr(err)
		}
		s.ID = row.ID
		return writeChildren(ctx, tx, s)
	})
}

func (r *SessionRepository) Load(ctx context.Context, id int64) (*domain.LiveSession, error) {
	row := new(sessionRow)
	err := r.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", id, err)
	}
	sessions, err := r.hydrate(ctx, []sessionRow{*row})
	if err != nil {
		return nil, err
	}
	return sessions[0], nil
}

func (r *SessionRepository) Save(ctx context.Context, s *domain.LiveSession) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model(toSessionRow(s)).WherePK().Exec(ctx)
		if err != nil {
			return mapWriteErr(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.ErrSessionNotFound
		}
		return writeChildren(ctx, tx, s)
	})
}

func (r *SessionRepository) FindByJoinCode(ctx context.Context, code string) (*domain.LiveSession, error) {
	var rows []sessionRow
	err := r.db.NewSelect().Model(&rows).
		Where("details->>'join_code' = ?", code).
		Where("ended_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find session by code: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	sessions, err := r.hydrate(ctx, rows)
	if err != nil {
		return nil, err
	}
	return sessions[0], nil
}

func (r *SessionRepository) ListOngoing(ctx context.Context, courseID int64) ([]*domain.LiveSession, error) {
	var rows []sessionRow
	err := r.db.NewSelect().Model(&rows).
		Where("course_id = ?", courseID).
		Where("ended_at IS NULL").
		OrderExpr("started_at DESC NULLS FIRST, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list course %d sessions: %w", courseID, err)
	}
	if len(rows) == 0 {
		return []*domain.LiveSession{}, nil
	}
	return r.hydrate(ctx, rows)
}

// hydrate attaches participants and leaderboard rows to loaded sessions.
func (r *SessionRepository) hydrate(ctx context.Context, rows []sessionRow) ([]*domain.LiveSession, error) {
	ids := make([]int64, 0, len(rows))
	byID := make(map[int64]*domain.LiveSession, len(rows))
	out := make([]*domain.LiveSession, 0, len(rows))
	for i := range rows {
		s := rows[i].toDomain()
		ids = append(ids, s.ID)
		byID[s.ID] = s
		out = append(out, s)
	}

	var parts []participantRow
	if err := r.db.NewSelect().Model(&parts).
		Where("session_id IN (?)", bun.In(ids)).
		OrderExpr("session_id, id").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	for _, p := range parts {
		s := byID[p.SessionID]
		s.Participants = append(s.Participants, p.toDomain())
	}

	var board []leaderboardRow
	if err := r.db.NewSelect().Model(&board).
		Where("session_id IN (?)", bun.In(ids)).
		OrderExpr(`session_id, "rank"`).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	for _, e := range board {
		s := byID[e.SessionID]
		s.Leaderboard = append(s.Leaderboard, domain.LeaderboardEntry{
			Rank: e.Rank, Score: e.Score, UserID: e.UserID, Name: e.Name,
		})
	}
	return out, nil
}

// writeChildren upserts participants in slice order so ids keep creation
// order, then replaces the leaderboard.
func writeChildren(ctx context.Context, tx bun.Tx, s *domain.LiveSession) error {
	if len(s.Participants) > 0 {
		parts := make([]participantRow, 0, len(s.Participants))
		for _, p := range s.Participants {
			parts = append(parts, toParticipantRow(s.ID, p))
		}
		_, err := tx.NewInsert().Model(&parts).
			On("CONFLICT (session_id, user_id) DO UPDATE").
			Set("user_name = EXCLUDED.user_name").
			Set("left_at = EXCLUDED.left_at").
			Set("answers = EXCLUDED.answers").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("save participants: %w", err)
		}
	}

	if _, err := tx.NewDelete().Model((*leaderboardRow)(nil)).
		Where("session_id = ?", s.ID).
		Exec(ctx); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	if len(s.Leaderboard) == 0 {
		return nil
	}
	board := make([]leaderboardRow, 0, len(s.Leaderboard))
	for _, e := range s.Leaderboard {
		board = append(board, leaderboardRow{
			SessionID: s.ID, Rank: e.Rank, UserID: e.UserID, Name: e.Name, Score: e.Score,
		})
	}
	if _, err := tx.NewInsert().Model(&board).Exec(ctx); err != nil {
		return fmt.Errorf("save leaderboard: %w", err)
	}
	return nil
}

func mapWriteErr(err error) error {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == "23505" && pgErr.Field('n') == joinCodeIndex {
		return domain.ErrJoinCodeTaken
	}
	return fmt.Errorf("write session: %w", err)
}

func toSessionRow(s *domain.LiveSession) *sessionRow {
	details := s.Details
	if details.Lobby == nil {
		details.Lobby = []domain.UserRef{}
	}
	return &sessionRow{
		ID:        s.ID,
		QuizID:    s.QuizID,
		CourseID:  s.CourseID,
		QuizTitle: s.QuizTitle,
		HostID:    s.Host.ID,
		HostName:  s.Host.Name,
		CreatedAt: s.CreatedAt,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Details:   details,
		Questions: s.Questions,
	}
}

func (row sessionRow) toDomain() *domain.LiveSession {
	s := &domain.LiveSession{
		ID:        row.ID,
		QuizID:    row.QuizID,
		CourseID:  row.CourseID,
		QuizTitle: row.QuizTitle,
		Host:      domain.UserRef{ID: row.HostID, Name: row.HostName},
		CreatedAt: row.CreatedAt,
		StartedAt: row.StartedAt,
		EndedAt:   row.EndedAt,
		Details:   row.Details,
		Questions: row.Questions,
	}
	if s.Details.Lobby == nil {
		s.Details.Lobby = []domain.UserRef{}
	}
	return s
}

func toParticipantRow(sessionID int64, p *domain.Participant) participantRow {
	answers := p.Answers
	if answers == nil {
		answers = []domain.AnswerRecord{}
	}
	return participantRow{
		SessionID: sessionID,
		UserID:    p.User.ID,
		UserName:  p.User.Name,
		JoinedAt:  p.JoinedAt,
		LeftAt:    p.LeftAt,
		Answers:   answers,
	}
}

func (row participantRow) toDomain() *domain.Participant {
	answers := row.Answers
	if answers == nil {
		answers = []domain.AnswerRecord{}
	}
	return &domain.Participant{
		User:     domain.UserRef{ID: row.UserID, Name: row.UserName},
		JoinedAt: row.JoinedAt,
		LeftAt:   row.LeftAt,
		Answers:  answers,
	}
}
