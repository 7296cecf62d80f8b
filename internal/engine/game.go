package engine

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var ErrInvalidName = errors.New("invalid display name")
var ErrDuplicateName = errors.New("display name already taken")

const MaxNameLength = 24

// Question is owned by the question bank and never mutated by a game.
type Question struct {
	ID            string
	Level         Level
	Points        int
	Text          string
	Options       []string
	CorrectAnswer int
	Popup         string
}

type Player struct {
	ID         string
	Name       string
	Team       Team
	TurnsTaken int
	Connected  bool
}

// PlayerTurnState lives for one turn, from level selection to the end of the popup.
type PlayerTurnState struct {
	PlayerID      string
	StartedAt     time.Time
	Level         Level
	LevelChosenAt time.Time
	Question      *Question
	MaxPoints     int
	Answered      bool
	Answer        *int
	IsCorrect     bool
	PointsEarned  int
	TimedOut      bool
	Skipped       bool
}

type Rules struct {
	LevelSelectionTimeout time.Duration
	AnswerTimeout         time.Duration
	ResultDuration        time.Duration
	PopupDuration         time.Duration
	// TurnsPerPlayer ends the game once every player has taken this many turns.
	TurnsPerPlayer int
	DefaultLevel   Level
}

func DefaultRules() Rules {
	return Rules{
		LevelSelectionTimeout: 15 * time.Second,
		AnswerTimeout:         20 * time.Second,
		ResultDuration:        5 * time.Second,
		PopupDuration:         5 * time.Second,
		TurnsPerPlayer:        2,
		DefaultLevel:          LevelLow,
	}
}

// Game is the state of one session. Only Apply mutates it.
type Game struct {
	Code          string
	TeamA         []*Player
	TeamB         []*Player
	CreatedAt     time.Time
	ScoreA        int
	ScoreB        int
	IsActive      bool
	State         State
	CurrentTurn   int
	Turn          *PlayerTurnState
	Deadline      time.Time
	EndReason     EndReason
	UsedQuestions map[string]bool
	Rules         Rules
}

func NewGame(code string, rules Rules, now time.Time) *Game {
	return &Game{
		Code:          code,
		TeamA:         []*Player{},
		TeamB:         []*Player{},
		CreatedAt:     now,
		State:         StateWaiting,
		UsedQuestions: map[string]bool{},
		Rules:         rules,
	}
}

func (g *Game) Player(id string) *Player {
	for _, p := range g.TeamA {
		if p.ID == id {
			return p
		}
	}
	for _, p := range g.TeamB {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (g *Game) Roster(t Team) []*Player {
	if t == TeamA {
		return g.TeamA
	}
	return g.TeamB
}

// Remaining returns how long the current timed phase has left.
func (g *Game) Remaining(now time.Time) time.Duration {
	if g.Deadline.IsZero() {
		return 0
	}
	if d := g.Deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Winner is "A", "B" or "draw".
func (g *Game) Winner() string {
	switch {
	case g.ScoreA > g.ScoreB:
		return string(TeamA)
	case g.ScoreB > g.ScoreA:
		return string(TeamB)
	default:
		return "draw"
	}
}

func join(g *Game, cmd Command) ([]Event, error) {
	if p := g.Player(cmd.PlayerID); p != nil {
		p.Connected = true
		return []Event{{Type: EvtPlayerRejoined, PlayerID: p.ID, Team: p.Team}}, nil
	}

	name, err := NormalizeName(cmd.Name)
	if err != nil {
		return nil, err
	}
	folded := cases.Fold().String(name)
	for _, roster := range [][]*Player{g.TeamA, g.TeamB} {
		for _, p := range roster {
			if cases.Fold().String(p.Name) == folded {
				return nil, ErrDuplicateName
			}
		}
	}

	p := &Player{ID: cmd.PlayerID, Name: name, Team: AssignTeam(g), Connected: true}
	if p.Team == TeamA {
		g.TeamA = append(g.TeamA, p)
	} else {
		g.TeamB = append(g.TeamB, p)
	}
	return []Event{{Type: EvtPlayerJoined, PlayerID: p.ID, Team: p.Team}}, nil
}

// NormalizeName trims and NFC-normalizes a display name.
func NormalizeName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}
