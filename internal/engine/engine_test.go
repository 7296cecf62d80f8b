package engine

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// stubBank serves questions in order and honours the used set.
type stubBank map[Level][]Question

func (b stubBank) Pick(level Level, used map[string]bool) (Question, bool) {
	for _, q := range b[level] {
		if !used[q.ID] {
			return q, true
		}
	}
	return Question{}, false
}

func (b stubBank) Remaining(level Level, used map[string]bool) int {
	n := 0
	for _, q := range b[level] {
		if !used[q.ID] {
			n++
		}
	}
	return n
}

func fullBank() stubBank {
	return stubBank{
		LevelLow: {
			{ID: "l1", Level: LevelLow, Points: 20, Text: "low 1", Options: []string{"a", "b", "c"}, CorrectAnswer: 0},
			{ID: "l2", Level: LevelLow, Points: 20, Text: "low 2", Options: []string{"a", "b", "c"}, CorrectAnswer: 1},
		},
		LevelMedium: {
			{ID: "m1", Level: LevelMedium, Points: 50, Text: "medium 1", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 2},
			{ID: "m2", Level: LevelMedium, Points: 50, Text: "medium 2", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 3},
		},
		LevelHard: {
			{ID: "h1", Level: LevelHard, Points: 100, Text: "hard 1", Options: []string{"a", "b"}, CorrectAnswer: 1},
		},
	}
}

func mustApply(t *testing.T, g *Game, bank QuestionSource, cmd Command) []Event {
	t.Helper()
	events, err := Apply(g, cmd, bank, t0)
	if err != nil {
		t.Fatalf("%s: unexpected err %v", cmd.Type, err)
	}
	return events
}

// newStartedGame returns a game with P1 on team A and P2 on team B, already started.
func newStartedGame(t *testing.T, bank QuestionSource) *Game {
	t.Helper()
	g := NewGame("ABC123", DefaultRules(), t0)
	mustApply(t, g, bank, Command{Type: CmdJoin, PlayerID: "p1", Name: "P1"})
	mustApply(t, g, bank, Command{Type: CmdJoin, PlayerID: "p2", Name: "P2"})
	mustApply(t, g, bank, Command{Type: CmdStartGame})
	return g
}

func timeout(g *Game) Command {
	return Command{Type: CmdTimeout, Turn: g.CurrentTurn, State: g.State}
}

func TestAssignTeam_Alternates(t *testing.T) {
	g := NewGame("ABC123", DefaultRules(), t0)
	want := []Team{TeamA, TeamB, TeamA, TeamB, TeamA, TeamB, TeamA}

	for i, team := range want {
		events := mustApply(t, g, fullBank(), Command{Type: CmdJoin, PlayerID: string(rune('a' + i)), Name: string(rune('A' + i))})
		if events[0].Team != team {
			t.Fatalf("join %d: got team %s, want %s", i, events[0].Team, team)
		}
		diff := len(g.TeamA) - len(g.TeamB)
		if diff < 0 || diff > 1 {
			t.Fatalf("join %d: team sizes %d/%d differ by more than one", i, len(g.TeamA), len(g.TeamB))
		}
	}
}

func TestJoinRejectsBadNames(t *testing.T) {
	cases := []struct {
		name    string
		display string
		wantErr error
	}{
		{name: "empty", display: "   ", wantErr: ErrInvalidName},
		{name: "too long", display: "abcdefghijklmnopqrstuvwxyz", wantErr: ErrInvalidName},
		{name: "duplicate ignoring case", display: "alice", wantErr: ErrDuplicateName},
		{name: "ok", display: "  Bob ", wantErr: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGame("ABC123", DefaultRules(), t0)
			mustApply(t, g, fullBank(), Command{Type: CmdJoin, PlayerID: "p0", Name: "Alice"})

			_, err := Apply(g, Command{Type: CmdJoin, PlayerID: "p1", Name: tc.display}, fullBank(), t0)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil && g.Player("p1").Name != "Bob" {
				t.Fatalf("name not trimmed: %q", g.Player("p1").Name)
			}
		})
	}
}

func TestRejoinKeepsTeam(t *testing.T) {
	g := newStartedGame(t, fullBank())
	mustApply(t, g, fullBank(), Command{Type: CmdDisconnect, PlayerID: "p2"})
	if g.Player("p2").Connected {
		t.Fatalf("p2 should be offline")
	}

	events := mustApply(t, g, fullBank(), Command{Type: CmdJoin, PlayerID: "p2"})
	if !ContainsEvent(events, EvtPlayerRejoined) {
		t.Fatalf("expected EvtPlayerRejoined, got %+v", events)
	}
	if p := g.Player("p2"); !p.Connected || p.Team != TeamB {
		t.Fatalf("rejoined player: %+v", p)
	}
	if len(g.TeamA)+len(g.TeamB) != 2 {
		t.Fatalf("rejoin must not add a player")
	}
}

func TestStartGame(t *testing.T) {
	cases := []struct {
		name    string
		players []string
		wantErr error
	}{
		{name: "no players", players: nil, wantErr: ErrTeamsIncomplete},
		{name: "only team A", players: []string{"p1"}, wantErr: ErrTeamsIncomplete},
		{name: "both teams", players: []string{"p1", "p2"}, wantErr: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGame("ABC123", DefaultRules(), t0)
			for _, id := range tc.players {
				mustApply(t, g, fullBank(), Command{Type: CmdJoin, PlayerID: id, Name: id})
			}
			_, err := Apply(g, Command{Type: CmdStartGame}, fullBank(), t0)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil && g.State != StateWaiting {
				t.Fatalf("failed start must leave state WAITING, got %s", g.State)
			}
		})
	}
}

func TestFullTurn_CorrectAnswerScores(t *testing.T) {
	bank := fullBank()
	g := newStartedGame(t, bank)

	if g.State != StateLevelSelection || g.Turn.PlayerID != "p1" || !g.IsActive {
		t.Fatalf("after start: state=%s turn=%+v", g.State, g.Turn)
	}

	events := mustApply(t, g, bank, Command{Type: CmdSelectLevel, PlayerID: "p1", Level: LevelMedium})
	if !ContainsEvent(events, EvtQuestionAssigned) || g.State != StateAnsweringQuestion {
		t.Fatalf("select level: events=%+v state=%s", events, g.State)
	}
	if g.Turn.MaxPoints != 50 || !g.UsedQuestions["m1"] {
		t.Fatalf("question not recorded: %+v", g.Turn)
	}
	if got := g.Remaining(t0); got != g.Rules.AnswerTimeout {
		t.Fatalf("answer deadline: got %v", got)
	}

	mustApply(t, g, bank, Command{Type: CmdSubmitAnswer, PlayerID: "p1", AnswerIndex: 2})
	if g.State != StateShowingResult || !g.Turn.IsCorrect || g.Turn.PointsEarned != 50 {
		t.Fatalf("after answer: state=%s turn=%+v", g.State, g.Turn)
	}
	if g.ScoreA != 50 || g.ScoreB != 0 {
		t.Fatalf("scores: got %d/%d", g.ScoreA, g.ScoreB)
	}

	mustApply(t, g, bank, timeout(g))
	if g.State != StateShowingPopup {
		t.Fatalf("want SHOWING_POPUP, got %s", g.State)
	}

	events = mustApply(t, g, bank, timeout(g))
	if !ContainsEvent(events, EvtTurnStarted) || g.State != StateLevelSelection {
		t.Fatalf("next turn: events=%+v state=%s", events, g.State)
	}
	if g.Turn.PlayerID != "p2" || g.CurrentTurn != 1 || g.Player("p1").TurnsTaken != 1 {
		t.Fatalf("want p2 on turn 1, got %+v (turn %d)", g.Turn, g.CurrentTurn)
	}
}

func TestSubmitAnswer_IsCorrectIffIndexMatches(t *testing.T) {
	for idx := 0; idx < 4; idx++ {
		bank := fullBank()
		g := newStartedGame(t, bank)
		mustApply(t, g, bank, Command{Type: CmdSelectLevel, PlayerID: "p1", Level: LevelMedium})
		mustApply(t, g, bank, Command{Type: CmdSubmitAnswer, PlayerID: "p1", AnswerIndex: idx})

		wantCorrect := idx == 2
		if g.Turn.IsCorrect != wantCorrect {
			t.Fatalf("index %d: isCorrect=%v", idx, g.Turn.IsCorrect)
		}
		if !wantCorrect && (g.Turn.PointsEarned != 0 || g.ScoreA != 0) {
			t.Fatalf("index %d: wrong answer earned points", idx)
		}
	}
}

func TestSubmitAnswer_SecondSubmissionHasNoEffect(t *testing.T) {
	bank := fullBank()
	g := newStartedGame(t, bank)
	mustApply(t, g, bank, Command{Type: CmdSelectLevel, PlayerID: "p1", Level: LevelMedium})
	mustApply(t, g, bank, Command{Type: CmdSubmitAnswer, PlayerID: "p1", AnswerIndex: 2})

	_, err := Apply(g, Command{Type: CmdSubmitAnswer, PlayerID: "p1", AnswerIndex: 2}, bank, t0)
	if !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("want ErrAlreadyAnswered, got %v", err)
	}
	if g.ScoreA != 50 || g.State != StateShowingResult {
		t.Fatalf("second submit changed game: score=%d state=%s", g.ScoreA, g.State)
	}
}

func TestRejectsOutOfTurnAndOutOfState(t *testing.T) {
	bank := fullBank()
	g := newStartedGame(t, bank)

	cases := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{name: "other player selects", cmd: Command{Type: CmdSelectLevel, PlayerID: "p2", Level: LevelLow}, wantErr: ErrNotYourTurn},
		{name: "answer during selection", cmd: Command{Type: CmdSubmitAnswer, PlayerID: "p1", AnswerIndex: 0}, wantErr: ErrWrongState},
		{name: "unknown level", cmd: Command{Type: CmdSelectLevel, PlayerID: "p1", Level: "extreme"}, wantErr: ErrInvalidLevel},
		{name: "start twice", cmd: Command{Type: CmdStartGame}, wantErr: ErrWrongState},
		{name: "stale timeout", cmd: Command{Type: CmdTimeout, Turn: 3, State: StateLevelSelection}, wantErr: ErrStaleTimeout},
		{name: "unknown command", cmd: Command{Type: "Dance"}, wantErr: ErrUnsupportedCommand},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Apply(g, tc.cmd, bank, t0)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
			if g.State != StateLevelSelection || g.Turn.PlayerID != "p1" {
				t.Fatalf("rejected command mutated game: state=%s", g.State)
			}
		})
	}
}

func TestSubmitAnswer_OutOfRange(t *testing.T) {
	bank := fullBank()
	g := newStartedGame(t, bank)
	mustApply(t, g, bank, Command{Type: CmdSelectLevel, PlayerID: "p1", Level: LevelHard})

	for _, idx := range []int{-1, 2, 99} {
		_, err := Apply(g, Command{Type: CmdSubmitAnswer, PlayerID: "p1", AnswerIndex: idx}, bank, t0)
		if !errors.Is(err, ErrInvalidAnswer) {
			t.Fatalf("index %d: want ErrInvalidAnswer, got %v", idx, err)
		}
	}
	if g.State != StateAnsweringQuestion {
		t.Fatalf("state changed to %s", g.State)
	}
}

func TestAnswerTimeout_IsIncorrectAndZeroPoints(t *testing.T) {
	bank := fullBank()
	g := newStartedGame(t, bank)
	mustApply(t, g, bank, Command{Type: CmdSelectLevel, PlayerID: "p1", Level: LevelLow})

	events := mustApply(t, g, bank, timeout(g))
	if !ContainsEvent(events, EvtAnswerResult) || g.State != StateShowingResult {
		t.Fatalf("timeout: events=%+v state=%s", events, g.State)
	}
	if g.Turn.IsCorrect || g.Turn.PointsEarned != 0 || !g.Turn.TimedOut || g.Turn.Answered {
		t.Fatalf("timeout turn: %+v", g.Turn)
	}
	if g.ScoreA != 0 {
		t.Fatalf("score changed on timeout: %d", g.ScoreA)
	}
}

func TestLevelTimeout_UsesLowestAvailableLevel(t *testing.T) {
	bank := fullBank()
	bank[LevelLow] = nil
	g := newStartedGame(t, bank)

	events := mustApply(t, g, bank, timeout(g))
	if g.State != StateAnsweringQuestion || g.Turn.Level != LevelMedium || !g.Turn.TimedOut {
		t.Fatalf("want medium question after timeout, got state=%s turn=%+v events=%+v", g.State, g.Turn, events)
	}
}

func TestExhaustedLevel_SkipsTurn(t *testing.T) {
	bank := fullBank()
	bank[LevelHard] = nil
	g := newStartedGame(t, bank)

	events := mustApply(t, g, bank, Command{Type: CmdSelectLevel, PlayerID: "p1", Level: LevelHard})
	if !ContainsEvent(events, EvtTurnSkipped) {
		t.Fatalf("want EvtTurnSkipped, got %+v", events)
	}
	if ContainsEvent(events, EvtQuestionAssigned) {
		t.Fatalf("skipped turn must not assign a question")
	}
	if g.State != StateLevelSelection || g.Turn.PlayerID != "p2" {
		t.Fatalf("want p2 selecting, got state=%s turn=%+v", g.State, g.Turn)
	}
	if g.ScoreA != 0 || g.Player("p1").TurnsTaken != 1 {
		t.Fatalf("skip: score=%d turns=%d", g.ScoreA, g.Player("p1").TurnsTaken)
	}
}

func TestRoundRobin_InterleavesTeams(t *testing.T) {
	bank := fullBank()
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		bank[LevelLow] = append(bank[LevelLow], Question{ID: "x" + id, Level: LevelLow, Points: 10, Options: []string{"a", "b"}})
	}
	rules := DefaultRules()
	rules.TurnsPerPlayer = 1
	g := NewGame("ABC123", rules, t0)
	for _, id := range []string{"a1", "b1", "a2", "b2", "a3"} {
		mustApply(t, g, bank, Command{Type: CmdJoin, PlayerID: id, Name: id})
	}
	mustApply(t, g, bank, Command{Type: CmdStartGame})

	var order []string
	for g.State != StateGameOver {
		order = append(order, g.Turn.PlayerID)
		mustApply(t, g, bank, Command{Type: CmdSelectLevel, PlayerID: g.Turn.PlayerID, Level: LevelLow})
		mustApply(t, g, bank, timeout(g)) // answer
		mustApply(t, g, bank, timeout(g)) // result
		mustApply(t, g, bank, timeout(g)) // popup
	}

	want := []string{"a1", "b1", "a2", "b2", "a3"}
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
	if g.EndReason != EndCompleted {
		t.Fatalf("end reason %s", g.EndReason)
	}
}

func TestGameEndsWhenBankExhausted(t *testing.T) {
	bank := stubBank{LevelLow: {{ID: "only", Level: LevelLow, Points: 10, Options: []string{"a", "b"}}}}
	g := newStartedGame(t, bank)

	mustApply(t, g, bank, Command{Type: CmdSelectLevel, PlayerID: "p1", Level: LevelLow})
	mustApply(t, g, bank, timeout(g))
	mustApply(t, g, bank, timeout(g))
	events := mustApply(t, g, bank, timeout(g))

	if !ContainsEvent(events, EvtGameEnded) || g.State != StateGameOver {
		t.Fatalf("want game over, got state=%s events=%+v", g.State, events)
	}
	if g.EndReason != EndQuestionsExhausted || g.IsActive || g.Turn != nil {
		t.Fatalf("end: %+v", g)
	}
}

func TestEndGame_MidTurn(t *testing.T) {
	bank := fullBank()
	g := newStartedGame(t, bank)
	mustApply(t, g, bank, Command{Type: CmdSelectLevel, PlayerID: "p1", Level: LevelLow})

	events := mustApply(t, g, bank, Command{Type: CmdEndGame})
	if len(events) != 1 || events[0].Type != EvtGameEnded || events[0].Reason != EndHostEnded {
		t.Fatalf("end game events: %+v", events)
	}
	if g.State != StateGameOver || !g.Deadline.IsZero() {
		t.Fatalf("end game: state=%s deadline=%v", g.State, g.Deadline)
	}

	if _, err := Apply(g, Command{Type: CmdSubmitAnswer, PlayerID: "p1"}, bank, t0); !errors.Is(err, ErrGameOver) {
		t.Fatalf("want ErrGameOver, got %v", err)
	}
}

func TestDisconnectOfActivePlayer_ActsAsTimeout(t *testing.T) {
	bank := fullBank()
	g := newStartedGame(t, bank)
	mustApply(t, g, bank, Command{Type: CmdSelectLevel, PlayerID: "p1", Level: LevelLow})

	events := mustApply(t, g, bank, Command{Type: CmdDisconnect, PlayerID: "p1"})
	if !ContainsEvent(events, EvtAnswerResult) || g.State != StateShowingResult || !g.Turn.TimedOut {
		t.Fatalf("disconnect: state=%s events=%+v", g.State, events)
	}

	// Non-active player leaving does not move the game.
	events = mustApply(t, g, bank, Command{Type: CmdDisconnect, PlayerID: "p2"})
	if len(events) != 1 || g.State != StateShowingResult {
		t.Fatalf("passive disconnect: state=%s events=%+v", g.State, events)
	}
}

func TestDisconnectDuringSelection_ResolvesTurnAtOnce(t *testing.T) {
	bank := fullBank()
	g := newStartedGame(t, bank)

	events := mustApply(t, g, bank, Command{Type: CmdDisconnect, PlayerID: "p1"})
	if !ContainsEvent(events, EvtQuestionAssigned) || !ContainsEvent(events, EvtAnswerResult) {
		t.Fatalf("want default level then timed-out answer, got %+v", events)
	}
	if g.State != StateShowingResult || !g.Turn.TimedOut || g.Turn.Level != LevelLow {
		t.Fatalf("state=%s turn=%+v", g.State, g.Turn)
	}
	if g.ScoreA != 0 {
		t.Fatalf("offline player scored %d", g.ScoreA)
	}
}

func TestScoresNeverDecrease(t *testing.T) {
	g := NewGame("ABC123", DefaultRules(), t0)
	AddPoints(g, TeamA, 30)
	AddPoints(g, TeamA, -10)
	AddPoints(g, TeamB, 0)
	if g.ScoreA != 30 || g.ScoreB != 0 {
		t.Fatalf("got %d/%d", g.ScoreA, g.ScoreB)
	}
}
