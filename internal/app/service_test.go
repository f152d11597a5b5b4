package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func TestPerformDispatch(t *testing.T) {
	ctx := context.Background()
	var observed []string
	f := newFixture(t, nil)
	f.service = app.NewService(f.engine, f.store, f.quizzes, sampleDirectory(), allowAll{}, func(action, outcome string) {
		observed = append(observed, action+":"+outcome)
	})
	s := f.create(t, 1)

	res, err := f.service.Perform(ctx, alice, s.ID, app.Command{Action: app.ActionJoinLobby})
	if err != nil || len(res.LobbyUsers) != 1 {
		t.Fatalf("join_lobby: %+v %v", res, err)
	}

	res, err = f.service.Perform(ctx, host, s.ID, app.Command{Action: app.ActionAdmit, UserID: alice.ID})
	if err != nil || len(res.LobbyUsers) != 0 {
		t.Fatalf("admit: %+v %v", res, err)
	}

	res, err = f.service.Perform(ctx, host, s.ID, app.Command{Action: app.ActionStart})
	if err != nil || res.Progress == nil || res.Progress.Total != 2 {
		t.Fatalf("start: %+v %v", res, err)
	}

	res, err = f.service.Perform(ctx, alice, s.ID, app.Command{Action: app.ActionAnswer, Selected: json.RawMessage(`["1"]`)})
	if err != nil || res.Answer == nil || res.Answer.Points != 10 {
		t.Fatalf("answer: %+v %v", res, err)
	}

	res, err = f.service.Perform(ctx, host, s.ID, app.Command{Action: app.ActionNext})
	if err != nil || res.Advance == nil || res.Advance.Kind != app.AdvanceNext {
		t.Fatalf("next: %+v %v", res, err)
	}

	res, err = f.service.Perform(ctx, host, s.ID, app.Command{Action: app.ActionEnd})
	if err != nil || len(res.Leaderboard) != 1 {
		t.Fatalf("end: %+v %v", res, err)
	}

	for _, action := range []string{"", "dance"} {
		res, err = f.service.Perform(ctx, alice, s.ID, app.Command{Action: action})
		if err != nil || !res.Ignored {
			t.Fatalf("action %q should be ignored, got %+v %v", action, res, err)
		}
	}

	if _, err := f.service.Perform(ctx, alice, s.ID, app.Command{Action: app.ActionNext}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("next by participant: expected forbidden, got %v", err)
	}

	want := []string{
		"join_lobby:ok", "admit:ok", "start:ok", "answer:ok", "next:ok", "end:ok",
		"unknown:ignored", "unknown:ignored", "next:error",
	}
	if len(observed) != len(want) {
		t.Fatalf("expected %v, got %v", want, observed)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("observation %d: expected %s, got %s", i, want[i], observed[i])
		}
	}
}

func TestPerformRequiresReadAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, allowAll{deny: map[int64]bool{carol.ID: true}})
	s := f.create(t, 1)

	if _, err := f.service.Perform(ctx, carol, s.ID, app.Command{Action: app.ActionJoinLobby}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("join_lobby: expected forbidden, got %v", err)
	}
	if _, err := f.service.Perform(ctx, host, s.ID, app.Command{Action: app.ActionStart}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.service.Perform(ctx, carol, s.ID, app.Command{Action: app.ActionAnswer, Selected: json.RawMessage(`[1]`)}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("answer: expected forbidden, got %v", err)
	}
	if _, err := f.service.Perform(ctx, carol, 999, app.Command{Action: app.ActionAnswer}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("unknown session: expected not found, got %v", err)
	}

	stored := f.load(t, s.ID)
	if len(stored.Details.Lobby) != 0 || stored.Participant(carol.ID) != nil {
		t.Fatalf("denied user changed the session: lobby %+v participants %+v", stored.Details.Lobby, stored.ParticipantRefs())
	}
}

func TestAdmitUnknownDirectoryUser(t *testing.T) {
	f := newFixture(t, nil)
	s := f.create(t, 1)
	_, err := f.service.Perform(context.Background(), host, s.ID, app.Command{Action: app.ActionAdmit, UserID: 999})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestCreateSessionRequiresHostCapability(t *testing.T) {
	f := newFixture(t, allowAll{deny: map[int64]bool{host.ID: true}})
	if _, err := f.service.CreateSession(context.Background(), host, 1); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.service.CreateSession(context.Background(), alice, 42); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestCreateSessionAnnouncesOnCourse(t *testing.T) {
	f := newFixture(t, nil)
	s := f.create(t, 1)

	if s.Details.JoinCode == "" || s.QuizTitle != "Warm-up" || s.CourseID != 1 || s.Host != host {
		t.Fatalf("unexpected session %+v", s)
	}
	msgs := f.bus.snapshot()
	if len(msgs) != 1 || msgs[0].op != domain.CourseOpCreate {
		t.Fatalf("expected a course create, got %+v", msgs)
	}
}

func TestJoinByCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)

	joined, lobby, err := f.service.JoinByCode(ctx, alice, "  "+strings.ToLower(s.Details.JoinCode)+" ")
	if err != nil {
		t.Fatalf("join by code: %v", err)
	}
	if joined.ID != s.ID || len(lobby) != 1 || lobby[0].ID != alice.ID {
		t.Fatalf("unexpected join result %+v %+v", joined, lobby)
	}

	if _, _, err := f.service.JoinByCode(ctx, alice, "ZZZZZZ"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found for unknown code, got %v", err)
	}

	denied := newFixture(t, allowAll{deny: map[int64]bool{bob.ID: true}})
	other := denied.create(t, 1)
	if _, _, err := denied.service.JoinByCode(ctx, bob, other.Details.JoinCode); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSnapshotHidesCodeFromPlayers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	_, _ = f.engine.JoinLobby(ctx, s.ID, alice)

	hostView, err := f.service.Snapshot(ctx, host, s.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !hostView.IsHost || hostView.JoinCode == "" || hostView.Started || hostView.CurrentIndex != -1 {
		t.Fatalf("unexpected host view %+v", hostView)
	}
	if len(hostView.LobbyUsers) != 1 || len(hostView.Participants) != 0 {
		t.Fatalf("unexpected listings %+v", hostView)
	}

	playerView, _ := f.service.Snapshot(ctx, alice, s.ID)
	if playerView.IsHost || playerView.JoinCode != "" {
		t.Fatalf("players must not see the join code: %+v", playerView)
	}
}

func TestCurrentQuestionOmitsCorrectness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)

	view, err := f.service.CurrentQuestion(ctx, alice, s.ID)
	if err != nil || view.State != "lobby" || view.Prompt != "" {
		t.Fatalf("lobby view: %+v %v", view, err)
	}

	_, _ = f.engine.Start(ctx, s.ID, host.ID)
	_, _ = f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(2))

	view, err = f.service.CurrentQuestion(ctx, alice, s.ID)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	if view.Prompt != "Pick the second" || len(view.Choices) != 3 || !view.Answered || view.Selected[0] != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	raw, _ := json.Marshal(view)
	if bytes.Contains(raw, []byte("is_correct")) {
		t.Fatalf("question view leaks correctness: %s", raw)
	}
}

func TestLeaderboardOnDemand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	_, _ = f.engine.Start(ctx, s.ID, host.ID)
	_, _ = f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(1))

	board, err := f.service.Leaderboard(ctx, bob, s.ID)
	if err != nil || len(board) != 1 || board[0].Score != 10 {
		t.Fatalf("running board: %+v %v", board, err)
	}
	if len(f.load(t, s.ID).Leaderboard) != 0 {
		t.Fatalf("running board must not be persisted")
	}
}

func TestBuildReportRoundsHalfToEven(t *testing.T) {
	questions, err := domain.SnapshotQuestions(twoQuestionQuiz().Items[:1])
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	for _, tc := range []struct {
		correct int
		want    string
	}{
		{correct: 1, want: "0.62"},
		{correct: 3, want: "1.88"},
	} {
		session := &domain.LiveSession{Questions: questions}
		for i := 0; i < 16; i++ {
			p := &domain.Participant{User: domain.UserRef{ID: int64(100 + i), Name: fmt.Sprintf("p%02d", i)}}
			if i < tc.correct {
				p.Answers = []domain.AnswerRecord{{QuestionIndex: 0, Points: app.PointsPerQuestion, Selected: []int{1}}}
			}
			session.Participants = append(session.Participants, p)
		}

		got := app.BuildReport(session)[0].Stats.AvgPoints.String()
		if got != tc.want {
			t.Fatalf("%d of 16 correct: expected avg %s, got %s", tc.correct, tc.want, got)
		}
	}
}

func TestAnswersReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	_, _ = f.engine.Start(ctx, s.ID, host.ID)
	_, _ = f.engine.SubmitAnswer(ctx, s.ID, bob, domain.NewSelection(1))
	_, _ = f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(0))
	_, _ = f.engine.SubmitAnswer(ctx, s.ID, carol, domain.NewSelection(1))

	if _, err := f.service.AnswersReport(ctx, host, s.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("report before end: expected invalid transition, got %v", err)
	}
	_, _ = f.engine.End(ctx, s.ID, host.ID)

	if _, err := f.service.AnswersReport(ctx, alice, s.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("report by player: expected forbidden, got %v", err)
	}

	report, err := f.service.AnswersReport(ctx, host, s.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected a section per question, got %d", len(report))
	}

	q0 := report[0]
	if q0.Rows[0].User.ID != alice.ID || q0.Rows[1].User.ID != bob.ID || q0.Rows[2].User.ID != carol.ID {
		t.Fatalf("rows must be sorted by name: %+v", q0.Rows)
	}
	if q0.Rows[1].SelectedTexts[0] != "second" {
		t.Fatalf("unexpected selected text %+v", q0.Rows[1])
	}
	if q0.Stats.Attempted != 3 || q0.Stats.Correct != 2 || q0.Stats.AvgPoints.String() != "6.67" {
		t.Fatalf("unexpected stats %+v avg=%s", q0.Stats, q0.Stats.AvgPoints)
	}

	q1 := report[1]
	if !q1.Rows[0].Skipped || q1.Stats.Attempted != 0 || q1.Stats.AvgPoints.String() != "0" {
		t.Fatalf("unexpected second question %+v", q1)
	}
}

func TestCourseSessionsOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.create(t, 1)
	b := f.create(t, 1)
	c := f.create(t, 1)
	_, _ = f.engine.Start(ctx, a.ID, host.ID)
	_, _ = f.engine.Start(ctx, b.ID, host.ID)
	ended := f.create(t, 1)
	_, _ = f.engine.Start(ctx, ended.ID, host.ID)
	_, _ = f.engine.End(ctx, ended.ID, host.ID)

	list, err := f.service.CourseSessions(ctx, alice, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := make([]int64, 0, len(list))
	for _, row := range list {
		got = append(got, row.ID)
	}
	want := []int64{c.ID, b.ID, a.ID}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if _, err := f.service.CourseSessions(ctx, alice, 77); !errors.Is(err, domain.ErrCourseNotFound) {
		t.Fatalf("expected course not found, got %v", err)
	}
}
