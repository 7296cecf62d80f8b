package domain

import "time"

const (
	EventNameGameFinished = "game.finished"
)

type TeamResult struct {
	Score   int      `json:"score"`
	Players []string `json:"players"`
}

// GameResult is the summary of a finished game, published once per session.
type GameResult struct {
	Code       string     `json:"code"`
	Winner     string     `json:"winner"`
	Reason     string     `json:"reason"`
	Turns      int        `json:"turns"`
	TeamA      TeamResult `json:"teamA"`
	TeamB      TeamResult `json:"teamB"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}

type EventGameFinished struct {
	Result GameResult
}

func (EventGameFinished) Name() string { return EventNameGameFinished }
