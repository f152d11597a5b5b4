package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)

	progress, err := f.engine.Start(ctx, s.ID, host.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if progress.CurrentIndex != 0 || progress.Total != 2 {
		t.Fatalf("expected cursor 0 of 2, got %+v", progress)
	}

	out, err := f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(1))
	if err != nil {
		t.Fatalf("answer q0: %v", err)
	}
	if out.Status != app.AnswerOK || out.Points != 10 {
		t.Fatalf("expected ok with 10 points, got %+v", out)
	}

	adv, err := f.engine.Advance(ctx, s.ID, host.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if adv.Kind != app.AdvanceNext || adv.CurrentIndex != 1 {
		t.Fatalf("expected next to 1, got %+v", adv)
	}

	out, err = f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(0))
	if err != nil {
		t.Fatalf("answer q1: %v", err)
	}
	if out.Status != app.AnswerOK || out.Points != 0 {
		t.Fatalf("expected ok with 0 points, got %+v", out)
	}

	adv, err = f.engine.Advance(ctx, s.ID, host.ID)
	if err != nil {
		t.Fatalf("advance to end: %v", err)
	}
	if adv.Kind != app.AdvanceEnded {
		t.Fatalf("expected ended, got %+v", adv)
	}
	want := []domain.LeaderboardEntry{{Rank: 1, Score: 10, UserID: alice.ID, Name: alice.Name}}
	if len(adv.Leaderboard) != 1 || adv.Leaderboard[0] != want[0] {
		t.Fatalf("unexpected leaderboard %+v", adv.Leaderboard)
	}

	stored := f.load(t, s.ID)
	if stored.EndedAt == nil || stored.StartedAt == nil {
		t.Fatalf("ended session must have both timestamps")
	}
	if stored.Details.CurrentIndex != -1 {
		t.Fatalf("cursor must be -1 once ended, got %d", stored.Details.CurrentIndex)
	}
}

func TestLobbyAdmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)

	lobby, err := f.engine.JoinLobby(ctx, s.ID, alice)
	if err != nil {
		t.Fatalf("join lobby: %v", err)
	}
	if len(lobby) != 1 || lobby[0] != alice {
		t.Fatalf("expected alice waiting, got %+v", lobby)
	}
	if lobby, _ = f.engine.JoinLobby(ctx, s.ID, alice); len(lobby) != 1 {
		t.Fatalf("re-joining must be a no-op, got %+v", lobby)
	}

	f.bus.reset()
	lobby, err = f.engine.Admit(ctx, s.ID, host.ID, alice)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if len(lobby) != 0 {
		t.Fatalf("expected empty lobby, got %+v", lobby)
	}

	stored := f.load(t, s.ID)
	p := stored.Participant(alice.ID)
	if p == nil || len(p.Answers) != 0 {
		t.Fatalf("expected alice as participant with no answers, got %+v", p)
	}
	if stored.InLobby(alice.ID) {
		t.Fatalf("alice must have left the lobby")
	}

	msgs := f.bus.snapshot()
	if len(msgs) != 2 || msgs[0].topic != "update" || msgs[1].event.Kind != domain.EventAdmitted {
		t.Fatalf("expected update then admitted event, got %+v", msgs)
	}
	if msgs[1].event.UserID != alice.ID {
		t.Fatalf("admitted event must carry the user id, got %+v", msgs[1].event)
	}
}

func TestAdmitUnknownUserCreatesParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)

	for i := 0; i < 2; i++ {
		if _, err := f.engine.Admit(ctx, s.ID, host.ID, bob); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	if got := len(f.load(t, s.ID).Participants); got != 1 {
		t.Fatalf("expected a single participant after retries, got %d", got)
	}
}

func TestHostOnlyActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)

	if _, err := f.engine.Admit(ctx, s.ID, alice.ID, bob); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("admit by non-host: expected forbidden, got %v", err)
	}
	if _, err := f.engine.Start(ctx, s.ID, alice.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("start by non-host: expected forbidden, got %v", err)
	}
	if _, err := f.engine.Advance(ctx, s.ID, alice.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("advance by non-host: expected forbidden, got %v", err)
	}
	if _, err := f.engine.End(ctx, s.ID, alice.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("end by non-host: expected forbidden, got %v", err)
	}
	if f.load(t, s.ID).State() != domain.StateLobby {
		t.Fatalf("rejected actions must not change state")
	}
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)

	if _, err := f.engine.Advance(ctx, s.ID, host.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("advance in lobby: expected invalid transition, got %v", err)
	}
	if _, err := f.engine.End(ctx, s.ID, host.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("end in lobby: expected invalid transition, got %v", err)
	}
	if _, err := f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(1)); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("answer in lobby: expected invalid transition, got %v", err)
	}
	if _, err := f.engine.JoinLobby(ctx, s.ID, host); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("host joining lobby: expected invalid transition, got %v", err)
	}

	if _, err := f.engine.Start(ctx, s.ID, host.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.Admit(ctx, s.ID, host.ID, bob); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("admit after start: expected invalid transition, got %v", err)
	}
	if _, err := f.engine.RegenerateCode(ctx, s.ID, host.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("regenerate after start: expected invalid transition, got %v", err)
	}
	if _, err := f.engine.SubmitAnswer(ctx, s.ID, host, domain.NewSelection(1)); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("host answering: expected invalid transition, got %v", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	_, _ = f.engine.JoinLobby(ctx, s.ID, alice)

	first, err := f.engine.Start(ctx, s.ID, host.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}

	f.bus.reset()
	second, err := f.engine.Start(ctx, s.ID, host.ID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first != second {
		t.Fatalf("start must return the same progress, got %+v then %+v", first, second)
	}
	if msgs := f.bus.snapshot(); len(msgs) != 0 {
		t.Fatalf("second start must not broadcast, got %+v", msgs)
	}

	stored := f.load(t, s.ID)
	if len(stored.Participants) != 1 || len(stored.Participants[0].Answers) != 1 {
		t.Fatalf("second start must not reset answers or duplicate participants: %+v", stored.Participants)
	}
}

func TestStartConvertsLobbyAtomically(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	_, _ = f.engine.JoinLobby(ctx, s.ID, alice)
	_, _ = f.engine.JoinLobby(ctx, s.ID, bob)

	f.bus.reset()
	if _, err := f.engine.Start(ctx, s.ID, host.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	stored := f.load(t, s.ID)
	if len(stored.Details.Lobby) != 0 {
		t.Fatalf("lobby must be empty once started, got %+v", stored.Details.Lobby)
	}
	refs := stored.ParticipantRefs()
	if len(refs) != 2 || refs[0] != alice || refs[1] != bob {
		t.Fatalf("expected alice then bob as participants, got %+v", refs)
	}

	msgs := f.bus.snapshot()
	if len(msgs) != 3 {
		t.Fatalf("expected update, event and course update, got %+v", msgs)
	}
	if d := msgs[0].delta; d.Started == nil || !*d.Started || d.LobbyUsers == nil || len(*d.LobbyUsers) != 0 {
		t.Fatalf("unexpected start delta %+v", d)
	}
	if msgs[1].event.Kind != domain.EventStarted || msgs[2].op != domain.CourseOpUpdate {
		t.Fatalf("unexpected start broadcasts %+v", msgs)
	}
}

func TestStartSnapshotsContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	if _, err := f.engine.Start(ctx, s.ID, host.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	edited := twoQuestionQuiz()
	edited.Items[0].Choices[1].IsCorrect = false
	edited.Items[0].Choices[0].IsCorrect = true
	f.quizzes.Put(edited)

	out, err := f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(1))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if out.Points != 10 {
		t.Fatalf("edits after start must not affect scoring, got %d points", out.Points)
	}
}

func TestStartEmptyQuiz(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 2)

	progress, err := f.engine.Start(ctx, s.ID, host.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if progress.CurrentIndex != -1 || progress.Total != 0 {
		t.Fatalf("expected -1 of 0, got %+v", progress)
	}

	out, err := f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(0))
	if err != nil || out.Status != app.AnswerEnded {
		t.Fatalf("expected ended outcome, got %+v %v", out, err)
	}

	adv, err := f.engine.Advance(ctx, s.ID, host.ID)
	if err != nil || adv.Kind != app.AdvanceEnded {
		t.Fatalf("expected advance to end, got %+v %v", adv, err)
	}
}

func TestStartRejectsInvalidContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 3)

	if _, err := f.engine.Start(ctx, s.ID, host.ID); !errors.Is(err, domain.ErrInvalidQuizContent) {
		t.Fatalf("expected invalid content, got %v", err)
	}
	if f.load(t, s.ID).State() != domain.StateLobby {
		t.Fatalf("failed start must leave the session in the lobby")
	}

	fixed := brokenQuiz()
	fixed.Items[0].Choices[1].IsCorrect = false
	f.quizzes.Put(fixed)
	p, err := f.engine.Start(ctx, s.ID, host.ID)
	if err != nil || p.Total != 1 || p.CurrentIndex != 0 {
		t.Fatalf("start after fixing the quiz: %+v %v", p, err)
	}
}

func TestAnswerOnceAndLateJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	if _, err := f.engine.Start(ctx, s.ID, host.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	out, err := f.engine.SubmitAnswer(ctx, s.ID, carol, domain.NewSelection(1))
	if err != nil || out.Status != app.AnswerOK || out.Points != 10 {
		t.Fatalf("late joiner should be scored normally, got %+v %v", out, err)
	}

	out, err = f.engine.SubmitAnswer(ctx, s.ID, carol, domain.NewSelection(0))
	if err != nil || out.Status != app.AnswerAlready {
		t.Fatalf("second submission must report already, got %+v %v", out, err)
	}

	p := f.load(t, s.ID).Participant(carol.ID)
	if p == nil || len(p.Answers) != 1 || p.Answers[0].Points != 10 {
		t.Fatalf("first submission must stay authoritative, got %+v", p)
	}
}

func TestJoinAfterStartCreatesParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	_, _ = f.engine.Start(ctx, s.ID, host.ID)

	lobby, err := f.engine.JoinLobby(ctx, s.ID, bob)
	if err != nil {
		t.Fatalf("late join: %v", err)
	}
	if len(lobby) != 0 {
		t.Fatalf("late joiners bypass the lobby, got %+v", lobby)
	}
	if f.load(t, s.ID).Participant(bob.ID) == nil {
		t.Fatalf("expected bob as participant")
	}
}

func TestEndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	_, _ = f.engine.Start(ctx, s.ID, host.ID)
	_, _ = f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(0))
	_, _ = f.engine.SubmitAnswer(ctx, s.ID, bob, domain.NewSelection(1))
	_, _ = f.engine.SubmitAnswer(ctx, s.ID, carol, domain.NewSelection(0))

	first, err := f.engine.End(ctx, s.ID, host.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	endedAt := f.load(t, s.ID).EndedAt

	second, err := f.engine.End(ctx, s.ID, host.ID)
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected three rows, got %+v and %+v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("recomputation changed row %d: %+v vs %+v", i, first[i], second[i])
		}
	}
	if !f.load(t, s.ID).EndedAt.Equal(*endedAt) {
		t.Fatalf("ending twice must not move the end timestamp")
	}

	// bob leads; alice and carol tie and keep creation order.
	if first[0].UserID != bob.ID || first[1].UserID != alice.ID || first[2].UserID != carol.ID {
		t.Fatalf("unexpected order %+v", first)
	}

	out, err := f.engine.SubmitAnswer(ctx, s.ID, alice, domain.NewSelection(1))
	if err != nil || out.Status != app.AnswerEnded {
		t.Fatalf("answer after end must report ended, got %+v %v", out, err)
	}
	if _, err := f.engine.Advance(ctx, s.ID, host.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("advance after end: expected invalid transition, got %v", err)
	}
}

func TestRegenerateCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)

	code, err := f.engine.RegenerateCode(ctx, s.ID, host.ID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if code == s.Details.JoinCode || f.load(t, s.ID).Details.JoinCode != code {
		t.Fatalf("expected a new stored code, had %q got %q", s.Details.JoinCode, code)
	}
	if _, err := f.engine.RegenerateCode(ctx, s.ID, alice.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("regenerate by non-host: expected forbidden, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.engine.Start(context.Background(), 404, host.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.engine.JoinLobby(context.Background(), 404, alice); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentAnswersAreSerialized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	_, _ = f.engine.Start(ctx, s.ID, host.ID)

	var wg sync.WaitGroup
	results := make(chan app.AnswerStatus, 40)
	for i := 0; i < 20; i++ {
		for _, u := range []domain.UserRef{alice, bob} {
			wg.Add(1)
			go func(u domain.UserRef) {
				defer wg.Done()
				out, err := f.engine.SubmitAnswer(ctx, s.ID, u, domain.NewSelection(1))
				if err != nil {
					t.Errorf("answer: %v", err)
					return
				}
				results <- out.Status
			}(u)
		}
	}
	wg.Wait()
	close(results)

	ok := 0
	for status := range results {
		if status == app.AnswerOK {
			ok++
		}
	}
	if ok != 2 {
		t.Fatalf("expected exactly one accepted answer per user, got %d", ok)
	}

	stored := f.load(t, s.ID)
	if len(stored.Participants) != 2 {
		t.Fatalf("expected two participants, got %d", len(stored.Participants))
	}
	for _, p := range stored.Participants {
		if len(p.Answers) != 1 {
			t.Fatalf("participant %d has %d answers", p.User.ID, len(p.Answers))
		}
	}
}

func TestBroadcastOrderFollowsMutations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.create(t, 1)
	_, _ = f.engine.Start(ctx, s.ID, host.ID)

	f.bus.reset()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Advance(ctx, s.ID, host.ID)
		}()
	}
	wg.Wait()

	last := -1
	ended := 0
	for _, m := range f.bus.snapshot() {
		if m.topic != "update" {
			continue
		}
		if m.delta.CurrentIndex != nil {
			if *m.delta.CurrentIndex <= last {
				t.Fatalf("cursor updates out of order: %d after %d", *m.delta.CurrentIndex, last)
			}
			last = *m.delta.CurrentIndex
		}
		if m.delta.Ended != nil {
			ended++
		}
	}
	if last != 1 || ended != 1 {
		t.Fatalf("expected one move to 1 and one end, got last=%d ended=%d", last, ended)
	}
}
