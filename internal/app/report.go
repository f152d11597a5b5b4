package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"live-quiz-service/internal/domain"
)

type ReportRow struct {
	User            domain.UserRef `json:"user"`
	SelectedIndexes []int          `json:"selected_indexes"`
	SelectedTexts   []string       `json:"selected_texts"`
	Points          int            `json:"points"`
	Skipped         bool           `json:"skipped"`
}

type QuestionStats struct {
	Attempted int             `json:"attempted"`
	Correct   int             `json:"correct"`
	AvgPoints decimal.Decimal `json:"avg_points"`
}

type QuestionReport struct {
	Index   int                 `json:"index"`
	Type    domain.QuestionType `json:"question_type"`
	Prompt  string              `json:"question"`
	Choices []domain.Choice     `json:"choices"`
	Rows    []ReportRow         `json:"rows"`
	Stats   QuestionStats       `json:"stats"`
}

// AnswersReport breaks an ended session down per question.
func (s *Service) AnswersReport(ctx context.Context, actor domain.UserRef, sessionID int64) ([]QuestionReport, error) {
	session, err := s.OpenSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanViewAnswers(ctx, actor.ID, session) {
		return nil, fmt.Errorf("%w: cannot view answers of session %d", domain.ErrForbidden, sessionID)
	}
	if session.State() != domain.StateEnded {
		return nil, domain.InvalidTransition("answers report", session.State())
	}
	return BuildReport(session), nil
}

// BuildReport lists participants by name within each question. Averages
// round half to even.
func BuildReport(session *domain.LiveSession) []QuestionReport {
	participants := append([]*domain.Participant(nil), session.Participants...)
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].User.Name < participants[j].User.Name
	})

	reports := make([]QuestionReport, 0, len(session.Questions))
	for idx, q := range session.Questions {
		choices := q.Choices()
		report := QuestionReport{
			Index:   idx,
			Type:    q.Type(),
			Prompt:  q.Prompt(),
			Choices: choices,
			Rows:    make([]ReportRow, 0, len(participants)),
		}

		total := 0
		for _, p := range participants {
			ans, ok := p.Answer(idx)
			if !ok {
				report.Rows = append(report.Rows, ReportRow{
					User:            p.User,
					SelectedIndexes: []int{},
					SelectedTexts:   []string{},
					Skipped:         true,
				})
				continue
			}

			texts := make([]string, 0, len(ans.Selected))
			for _, i := range ans.Selected {
				if i < 0 || i >= len(choices) {
					continue
				}
				text := choices[i].Text
				if text == "" {
					text = fmt.Sprintf("Choice %d", i+1)
				}
				texts = append(texts, text)
			}

			report.Rows = append(report.Rows, ReportRow{
				User:            p.User,
				SelectedIndexes: ans.Selected,
				SelectedTexts:   texts,
				Points:          ans.Points,
			})
			report.Stats.Attempted++
			if ans.Points > 0 {
				report.Stats.Correct++
			}
			total += ans.Points
		}

		rows := len(report.Rows)
		if rows == 0 {
			rows = 1
		}
		report.Stats.AvgPoints = decimal.NewFromInt(int64(total)).
			Div(decimal.NewFromInt(int64(rows))).
			RoundBank(2)
		reports = append(reports, report)
	}
	return reports
}
