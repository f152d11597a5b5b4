package app

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"live-quiz-service/internal/domain"
)

// PointsPerQuestion is awarded for a fully correct answer.
const PointsPerQuestion = 10

// Evaluate scores a normalized selection against a snapshotted question.
func Evaluate(q domain.Question, selected domain.Selection) int {
	switch q := q.(type) {
	case domain.SingleChoice:
		if len(selected) == 1 && selected[0] == q.Correct {
			return PointsPerQuestion
		}
	case domain.MultiChoice:
		if selected.Equal(q.Correct) {
			return PointsPerQuestion
		}
	}
	return 0
}

// ParseSelection reads the "selected" field of a client message. Integers and
// integer strings are accepted; anything else yields an empty selection.
func ParseSelection(raw json.RawMessage) domain.Selection {
	if len(raw) == 0 {
		return domain.Selection{}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return domain.Selection{}
	}

	indexes := make([]int, 0, len(items))
	for _, item := range items {
		i, ok := parseIndex(item)
		if !ok {
			return domain.Selection{}
		}
		indexes = append(indexes, i)
	}
	return domain.NewSelection(indexes...)
}

func parseIndex(raw json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		i, err := strconv.Atoi(n.String())
		return i, err == nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	return i, err == nil
}

// ComputeLeaderboard ranks participants by descending score. Equal scores
// keep participant creation order.
func ComputeLeaderboard(participants []*domain.Participant) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, domain.LeaderboardEntry{
			Score:  p.Score(),
			UserID: p.User.ID,
			Name:   p.User.Name,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
