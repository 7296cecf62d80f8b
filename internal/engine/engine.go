package engine

import (
	"errors"
	"time"
)

var ErrWrongState = errors.New("command not allowed in current state")
var ErrNotYourTurn = errors.New("not your turn")
var ErrAlreadyAnswered = errors.New("answer already submitted")
var ErrTeamsIncomplete = errors.New("both teams need at least one player")
var ErrGameOver = errors.New("game already over")
var ErrStaleTimeout = errors.New("stale timeout")
var ErrInvalidLevel = errors.New("invalid level")
var ErrInvalidAnswer = errors.New("answer index out of range")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHard   Level = "hard"
)

// Levels lists every level from lowest to highest.
var Levels = []Level{LevelLow, LevelMedium, LevelHard}

func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelLow, LevelMedium, LevelHard:
		return Level(s), true
	default:
		return "", false
	}
}

type State string

const (
	StateWaiting           State = "WAITING"
	StateLevelSelection    State = "LEVEL_SELECTION"
	StateAnsweringQuestion State = "ANSWERING_QUESTION"
	StateShowingResult     State = "SHOWING_RESULT"
	StateShowingPopup      State = "SHOWING_POPUP"
	StateGameOver          State = "GAME_OVER"
)

// Timed reports whether the state is bounded by a timer.
func (s State) Timed() bool {
	switch s {
	case StateLevelSelection, StateAnsweringQuestion, StateShowingResult, StateShowingPopup:
		return true
	}
	return false
}

type EndReason string

const (
	EndCompleted          EndReason = "completed"
	EndHostEnded          EndReason = "host_ended"
	EndQuestionsExhausted EndReason = "questions_exhausted"
)

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdStartGame    CommandType = "StartGame"
	CmdSelectLevel  CommandType = "SelectLevel"
	CmdSubmitAnswer CommandType = "SubmitAnswer"
	CmdEndGame      CommandType = "EndGame"
	CmdTimeout      CommandType = "Timeout"
	CmdDisconnect   CommandType = "Disconnect"
)

/*
	CmdJoin         -> EvtPlayerJoined | EvtPlayerRejoined
	CmdStartGame    -> EvtGameStarted -> EvtTurnStarted
	CmdSelectLevel  -> EvtLevelSelected -> EvtQuestionAssigned
	                   (bank exhausted: EvtLevelSelected -> EvtTurnSkipped -> EvtTurnStarted | EvtGameEnded)
	CmdSubmitAnswer -> EvtAnswerResult -> EvtScoreUpdated
	CmdTimeout      -> same as the command the phase was waiting for, or EvtPopupShown / EvtTurnStarted
	CmdEndGame      -> EvtGameEnded
*/

// Command is one input to the state machine. Turn and State are only read for
// CmdTimeout and identify the phase the timer was armed for.
type Command struct {
	Type        CommandType
	PlayerID    string
	Name        string
	Level       Level
	AnswerIndex int
	Turn        int
	State       State
}

type EventType string

const (
	EvtPlayerJoined     EventType = "PlayerJoined"
	EvtPlayerRejoined   EventType = "PlayerRejoined"
	EvtPlayerLeft       EventType = "PlayerLeft"
	EvtGameStarted      EventType = "GameStarted"
	EvtTurnStarted      EventType = "TurnStarted"
	EvtLevelSelected    EventType = "LevelSelected"
	EvtQuestionAssigned EventType = "QuestionAssigned"
	EvtTurnSkipped      EventType = "TurnSkipped"
	EvtAnswerResult     EventType = "AnswerResult"
	EvtScoreUpdated     EventType = "ScoreUpdated"
	EvtPopupShown       EventType = "PopupShown"
	EvtGameEnded        EventType = "GameEnded"
)

type Event struct {
	Type     EventType
	PlayerID string
	Team     Team
	Level    Level
	TimedOut bool
	Reason   EndReason
}

// QuestionSource hands out questions a session has not used yet.
type QuestionSource interface {
	Pick(level Level, used map[string]bool) (Question, bool)
	Remaining(level Level, used map[string]bool) int
}

// Apply runs cmd against g. On error g is left untouched.
func Apply(g *Game, cmd Command, bank QuestionSource, now time.Time) ([]Event, error) {
	if g.State == StateGameOver && cmd.Type != CmdDisconnect {
		return nil, ErrGameOver
	}

	switch cmd.Type {
	case CmdJoin:
		return join(g, cmd)

	case CmdStartGame:
		if g.State != StateWaiting {
			return nil, ErrWrongState
		}
		if len(g.TeamA) == 0 || len(g.TeamB) == 0 {
			return nil, ErrTeamsIncomplete
		}
		g.IsActive = true
		events := []Event{{Type: EvtGameStarted}}
		return beginTurn(g, bank, now, events), nil

	case CmdSelectLevel:
		if g.State != StateLevelSelection {
			return nil, ErrWrongState
		}
		if g.Turn.PlayerID != cmd.PlayerID {
			return nil, ErrNotYourTurn
		}
		if _, ok := ParseLevel(string(cmd.Level)); !ok {
			return nil, ErrInvalidLevel
		}
		return chooseLevel(g, bank, cmd.Level, false, now), nil

	case CmdSubmitAnswer:
		if g.State != StateAnsweringQuestion {
			if g.Turn != nil && g.Turn.Answered {
				return nil, ErrAlreadyAnswered
			}
			return nil, ErrWrongState
		}
		if g.Turn.PlayerID != cmd.PlayerID {
			return nil, ErrNotYourTurn
		}
		if cmd.AnswerIndex < 0 || cmd.AnswerIndex >= len(g.Turn.Question.Options) {
			return nil, ErrInvalidAnswer
		}
		idx := cmd.AnswerIndex
		return resolveAnswer(g, &idx, now), nil

	case CmdTimeout:
		if cmd.Turn != g.CurrentTurn || cmd.State != g.State || !g.State.Timed() {
			return nil, ErrStaleTimeout
		}
		return expire(g, bank, now), nil

	case CmdDisconnect:
		return disconnect(g, bank, cmd.PlayerID, now), nil

	case CmdEndGame:
		return finish(g, EndHostEnded, nil), nil

	default:
		return nil, ErrUnsupportedCommand
	}
}

// expire applies the default outcome of the current timed phase.
func expire(g *Game, bank QuestionSource, now time.Time) []Event {
	switch g.State {
	case StateLevelSelection:
		level, ok := DefaultLevel(g, bank)
		if !ok {
			g.Turn.TimedOut = true
			return advance(g, bank, now, []Event{{Type: EvtTurnSkipped, PlayerID: g.Turn.PlayerID, TimedOut: true}})
		}
		return chooseLevel(g, bank, level, true, now)

	case StateAnsweringQuestion:
		return resolveAnswer(g, nil, now)

	case StateShowingResult:
		g.State = StateShowingPopup
		g.Deadline = now.Add(g.Rules.PopupDuration)
		return []Event{{Type: EvtPopupShown, PlayerID: g.Turn.PlayerID}}

	case StateShowingPopup:
		return advance(g, bank, now, nil)
	}
	return nil
}

func chooseLevel(g *Game, bank QuestionSource, level Level, timedOut bool, now time.Time) []Event {
	turn := g.Turn
	turn.Level = level
	turn.LevelChosenAt = now
	turn.TimedOut = timedOut

	events := []Event{{Type: EvtLevelSelected, PlayerID: turn.PlayerID, Level: level, TimedOut: timedOut}}

	q, ok := bank.Pick(level, g.UsedQuestions)
	if !ok {
		turn.Skipped = true
		events = append(events, Event{Type: EvtTurnSkipped, PlayerID: turn.PlayerID, Level: level})
		return advance(g, bank, now, events)
	}

	g.UsedQuestions[q.ID] = true
	turn.Question = &q
	turn.MaxPoints = q.Points
	g.State = StateAnsweringQuestion
	g.Deadline = now.Add(g.Rules.AnswerTimeout)
	return append(events, Event{Type: EvtQuestionAssigned, PlayerID: turn.PlayerID, Level: level})
}

func resolveAnswer(g *Game, idx *int, now time.Time) []Event {
	turn := g.Turn
	p := g.Player(turn.PlayerID)

	turn.Answered = idx != nil
	turn.Answer = idx
	turn.TimedOut = idx == nil
	turn.IsCorrect = idx != nil && *idx == turn.Question.CorrectAnswer
	turn.PointsEarned = 0
	if turn.IsCorrect {
		turn.PointsEarned = turn.Question.Points
	}
	AddPoints(g, p.Team, turn.PointsEarned)

	g.State = StateShowingResult
	g.Deadline = now.Add(g.Rules.ResultDuration)

	return []Event{
		{Type: EvtAnswerResult, PlayerID: p.ID, Team: p.Team, TimedOut: turn.TimedOut},
		{Type: EvtScoreUpdated, Team: p.Team},
	}
}

// advance closes the current turn and starts the next one or ends the game.
func advance(g *Game, bank QuestionSource, now time.Time, events []Event) []Event {
	if g.Turn != nil {
		if p := g.Player(g.Turn.PlayerID); p != nil {
			p.TurnsTaken++
		}
	}
	g.Turn = nil
	g.CurrentTurn++
	return beginTurn(g, bank, now, events)
}

func beginTurn(g *Game, bank QuestionSource, now time.Time, events []Event) []Event {
	if bankExhausted(g, bank) {
		return finish(g, EndQuestionsExhausted, events)
	}
	p := NextPlayer(g)
	if p == nil {
		return finish(g, EndCompleted, events)
	}

	g.Turn = &PlayerTurnState{PlayerID: p.ID, StartedAt: now}
	g.State = StateLevelSelection
	g.Deadline = now.Add(g.Rules.LevelSelectionTimeout)
	return append(events, Event{Type: EvtTurnStarted, PlayerID: p.ID, Team: p.Team})
}

func finish(g *Game, reason EndReason, events []Event) []Event {
	g.State = StateGameOver
	g.IsActive = false
	g.Turn = nil
	g.Deadline = time.Time{}
	g.EndReason = reason
	return append(events, Event{Type: EvtGameEnded, Reason: reason})
}

func disconnect(g *Game, bank QuestionSource, playerID string, now time.Time) []Event {
	p := g.Player(playerID)
	if p == nil {
		return nil
	}
	p.Connected = false
	events := []Event{{Type: EvtPlayerLeft, PlayerID: p.ID, Team: p.Team}}

	if g.Turn == nil || g.Turn.PlayerID != p.ID {
		return events
	}
	switch g.State {
	case StateLevelSelection, StateAnsweringQuestion:
		events = append(events, expire(g, bank, now)...)
		// An offline turn-holder cannot answer the question the default level drew.
		if g.State == StateAnsweringQuestion && g.Turn.PlayerID == p.ID {
			events = append(events, expire(g, bank, now)...)
		}
	}
	return events
}

func bankExhausted(g *Game, bank QuestionSource) bool {
	for _, l := range Levels {
		if bank.Remaining(l, g.UsedQuestions) > 0 {
			return false
		}
	}
	return true
}

// DefaultLevel is the level applied when the selection window expires: the
// configured default if it still has questions, else the lowest level that does.
func DefaultLevel(g *Game, bank QuestionSource) (Level, bool) {
	if bank.Remaining(g.Rules.DefaultLevel, g.UsedQuestions) > 0 {
		return g.Rules.DefaultLevel, true
	}
	for _, l := range Levels {
		if bank.Remaining(l, g.UsedQuestions) > 0 {
			return l, true
		}
	}
	return "", false
}
