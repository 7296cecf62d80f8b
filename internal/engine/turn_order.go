package engine

// AssignTeam places a new joiner: A when the roster size is even, B when odd.
func AssignTeam(g *Game) Team {
	if (len(g.TeamA)+len(g.TeamB))%2 == 0 {
		return TeamA
	}
	return TeamB
}

// NextPlayer picks who plays turn g.CurrentTurn. Even turns belong to team A and
// odd turns to team B; within a team the earliest joiner with the fewest turns
// goes first. A team with nobody under the quota yields to the other team. Nil
// means every player has used up their turns.
func NextPlayer(g *Game) *Player {
	first, second := TeamA, TeamB
	if g.CurrentTurn%2 == 1 {
		first, second = TeamB, TeamA
	}
	if p := nextInTeam(g.Roster(first), g.Rules.TurnsPerPlayer); p != nil {
		return p
	}
	return nextInTeam(g.Roster(second), g.Rules.TurnsPerPlayer)
}

func nextInTeam(roster []*Player, quota int) *Player {
	var next *Player
	for _, p := range roster {
		if p.TurnsTaken >= quota {
			continue
		}
		if next == nil || p.TurnsTaken < next.TurnsTaken {
			next = p
		}
	}
	return next
}
