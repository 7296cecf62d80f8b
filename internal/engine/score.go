package engine

// AddPoints credits a team. Negative values are ignored, so scores never decrease.
func AddPoints(g *Game, team Team, points int) {
	if points <= 0 {
		return
	}
	switch team {
	case TeamA:
		g.ScoreA += points
	case TeamB:
		g.ScoreB += points
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
