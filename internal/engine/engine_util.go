package engine

import "fmt"

func botPlayer(matchID string, joinOrder int) Player {
	return Player{
		ID:          fmt.Sprintf("bot-%s-%d", matchID, joinOrder),
		DisplayName: fmt.Sprintf("Bot %d", joinOrder+1),
		Elo:         1000,
		Team:        TeamUnassigned,
		IsBot:       true,
		JoinOrder:   joinOrder,
	}
}

// RosterSize is the total player count the draft invariant is checked against:
// |pool| + |pickHistory| + 2 captains == len(Players) while drafting.
func (m *Match) RosterSize() int {
	return len(m.Players)
}

// ContainsEvent reports whether events carries one of the given type.
func ContainsEvent(events []Event, t EventType) bool {
	for _, e := range events {
		if e.Type == t {
			return true
		}
	}
	return false
}
