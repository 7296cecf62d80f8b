package types

import (
	"time"

	"github.com/DoyleJ11/quiz-arena-backend/internal/engine"
)

type PlayerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// QuestionView never carries the correct option.
type QuestionView struct {
	ID      string   `json:"id"`
	Level   string   `json:"level"`
	Points  int      `json:"points"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

type TurnView struct {
	PlayerID      string        `json:"playerId"`
	PlayerName    string        `json:"playerName"`
	Team          string        `json:"team"`
	Level         string        `json:"level,omitempty"`
	Question      *QuestionView `json:"question,omitempty"`
	RemainingMs   int64         `json:"remainingMs"`
	Answered      bool          `json:"answered"`
	AnswerIndex   *int          `json:"answerIndex,omitempty"`
	IsCorrect     *bool         `json:"isCorrect,omitempty"`
	PointsEarned  *int          `json:"pointsEarned,omitempty"`
	CorrectAnswer *int          `json:"correctAnswer,omitempty"`
	Popup         string        `json:"popup,omitempty"`
}

type GameStateMessage struct {
	Type          string       `json:"type"`
	GameCode      string       `json:"gameCode"`
	TeamA         []PlayerView `json:"teamA"`
	TeamB         []PlayerView `json:"teamB"`
	ScoreA        int          `json:"scoreA"`
	ScoreB        int          `json:"scoreB"`
	IsActive      bool         `json:"isActive"`
	CurrentState  string       `json:"currentState"`
	CurrentTurn   int          `json:"currentTurn"`
	HostConnected bool         `json:"hostConnected"`
	Turn          *TurnView    `json:"turn,omitempty"`
}

type TurnUpdateMessage struct {
	Type         string `json:"type"`
	GameCode     string `json:"gameCode"`
	CurrentTurn  int    `json:"currentTurn"`
	PlayerID     string `json:"playerId"`
	PlayerName   string `json:"playerName"`
	Team         string `json:"team"`
	CurrentState string `json:"currentState"`
	RemainingMs  int64  `json:"remainingMs"`
	Skipped      bool   `json:"skipped"`
	Reason       string `json:"reason,omitempty"`
}

type QuestionAssignedMessage struct {
	Type        string   `json:"type"`
	GameCode    string   `json:"gameCode"`
	PlayerID    string   `json:"playerId"`
	QuestionID  string   `json:"questionId"`
	Level       string   `json:"level"`
	Points      int      `json:"points"`
	Text        string   `json:"text"`
	Options     []string `json:"options"`
	RemainingMs int64    `json:"remainingMs"`
}

type AnswerResultMessage struct {
	Type          string `json:"type"`
	GameCode      string `json:"gameCode"`
	PlayerID      string `json:"playerId"`
	Team          string `json:"team"`
	AnswerIndex   *int   `json:"answerIndex,omitempty"`
	IsCorrect     bool   `json:"isCorrect"`
	PointsEarned  int    `json:"pointsEarned"`
	CorrectAnswer int    `json:"correctAnswer"`
	TimedOut      bool   `json:"timedOut"`
}

type ScoreUpdateMessage struct {
	Type     string `json:"type"`
	GameCode string `json:"gameCode"`
	ScoreA   int    `json:"scoreA"`
	ScoreB   int    `json:"scoreB"`
}

type GameEndedMessage struct {
	Type     string       `json:"type"`
	GameCode string       `json:"gameCode"`
	ScoreA   int          `json:"scoreA"`
	ScoreB   int          `json:"scoreB"`
	Winner   string       `json:"winner"`
	Reason   string       `json:"reason"`
	TeamA    []PlayerView `json:"teamA"`
	TeamB    []PlayerView `json:"teamB"`
}

func roster(ps []*engine.Player) []PlayerView {
	out := make([]PlayerView, 0, len(ps))
	for _, p := range ps {
		out = append(out, PlayerView{ID: p.ID, Name: p.Name, Connected: p.Connected})
	}
	return out
}

// revealed reports whether the correct answer may be shown to everyone.
func revealed(s engine.State) bool {
	return s == engine.StateShowingResult || s == engine.StateShowingPopup
}

func NewGameState(g *engine.Game, hostConnected bool, now time.Time) GameStateMessage {
	msg := GameStateMessage{
		Type:          MsgGameState,
		GameCode:      g.Code,
		TeamA:         roster(g.TeamA),
		TeamB:         roster(g.TeamB),
		ScoreA:        g.ScoreA,
		ScoreB:        g.ScoreB,
		IsActive:      g.IsActive,
		CurrentState:  string(g.State),
		CurrentTurn:   g.CurrentTurn,
		HostConnected: hostConnected,
	}
	if g.Turn != nil && g.State.Timed() {
		msg.Turn = newTurnView(g, now)
	}
	return msg
}

func newTurnView(g *engine.Game, now time.Time) *TurnView {
	turn := g.Turn
	v := &TurnView{
		PlayerID:    turn.PlayerID,
		Level:       string(turn.Level),
		RemainingMs: g.Remaining(now).Milliseconds(),
		Answered:    turn.Answered,
		AnswerIndex: turn.Answer,
	}
	if p := g.Player(turn.PlayerID); p != nil {
		v.PlayerName = p.Name
		v.Team = string(p.Team)
	}
	if turn.Question != nil {
		v.Question = newQuestionView(turn.Question)
	}
	if revealed(g.State) && turn.Question != nil {
		correct, points, answer := turn.IsCorrect, turn.PointsEarned, turn.Question.CorrectAnswer
		v.IsCorrect = &correct
		v.PointsEarned = &points
		v.CorrectAnswer = &answer
	}
	if g.State == engine.StateShowingPopup && turn.Question != nil {
		v.Popup = turn.Question.Popup
	}
	return v
}

func newQuestionView(q *engine.Question) *QuestionView {
	return &QuestionView{
		ID:      q.ID,
		Level:   string(q.Level),
		Points:  q.Points,
		Text:    q.Text,
		Options: append([]string(nil), q.Options...),
	}
}

func NewTurnUpdate(g *engine.Game, e engine.Event, now time.Time) TurnUpdateMessage {
	msg := TurnUpdateMessage{
		Type:         MsgTurnUpdate,
		GameCode:     g.Code,
		CurrentTurn:  g.CurrentTurn,
		PlayerID:     e.PlayerID,
		CurrentState: string(g.State),
		RemainingMs:  g.Remaining(now).Milliseconds(),
	}
	if p := g.Player(e.PlayerID); p != nil {
		msg.PlayerName = p.Name
		msg.Team = string(p.Team)
	}
	if e.Type == engine.EvtTurnSkipped {
		msg.Skipped = true
		msg.Reason = "no questions left at level " + string(e.Level)
		if e.TimedOut {
			msg.Reason = "no questions left"
		}
	}
	return msg
}

func NewQuestionAssigned(g *engine.Game, now time.Time) QuestionAssignedMessage {
	q := g.Turn.Question
	return QuestionAssignedMessage{
		Type:        MsgQuestionAssigned,
		GameCode:    g.Code,
		PlayerID:    g.Turn.PlayerID,
		QuestionID:  q.ID,
		Level:       string(q.Level),
		Points:      q.Points,
		Text:        q.Text,
		Options:     append([]string(nil), q.Options...),
		RemainingMs: g.Remaining(now).Milliseconds(),
	}
}

func NewAnswerResult(g *engine.Game, e engine.Event) AnswerResultMessage {
	turn := g.Turn
	return AnswerResultMessage{
		Type:          MsgAnswerResult,
		GameCode:      g.Code,
		PlayerID:      e.PlayerID,
		Team:          string(e.Team),
		AnswerIndex:   turn.Answer,
		IsCorrect:     turn.IsCorrect,
		PointsEarned:  turn.PointsEarned,
		CorrectAnswer: turn.Question.CorrectAnswer,
		TimedOut:      turn.TimedOut,
	}
}

func NewScoreUpdate(g *engine.Game) ScoreUpdateMessage {
	return ScoreUpdateMessage{Type: MsgScoreUpdate, GameCode: g.Code, ScoreA: g.ScoreA, ScoreB: g.ScoreB}
}

func NewGameEnded(g *engine.Game) GameEndedMessage {
	return GameEndedMessage{
		Type:     MsgGameEnded,
		GameCode: g.Code,
		ScoreA:   g.ScoreA,
		ScoreB:   g.ScoreB,
		Winner:   g.Winner(),
		Reason:   string(g.EndReason),
		TeamA:    roster(g.TeamA),
		TeamB:    roster(g.TeamB),
	}
}
