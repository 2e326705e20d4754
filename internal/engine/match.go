package engine

import (
	"errors"
	"sort"
	"time"
)

var ErrWrongTurn = errors.New("not your turn")
var ErrInvalidTarget = errors.New("invalid target player")
var ErrInvalidState = errors.New("action not legal in current match state")
var ErrNotHost = errors.New("host only action")
var ErrMatchFull = errors.New("match is full")
var ErrAlreadyJoined = errors.New("player already in match")
var ErrNotInMatch = errors.New("player not in match")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusDrafting   Status = "drafting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further mutation is legal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type MatchType string

const (
	TypeCasual      MatchType = "casual"
	TypeCompetitive MatchType = "competitive"
	TypeLeague      MatchType = "league"
	TypeClanLobby   MatchType = "clan_lobby"
	TypeClanWar     MatchType = "clan_war"
)

// RequiresDraft reports whether this match type goes through a captain draft
// before play starts.
func (t MatchType) RequiresDraft() bool {
	return t == TypeCompetitive || t == TypeLeague
}

type Team string

const (
	TeamAlpha      Team = "alpha"
	TeamBravo      Team = "bravo"
	TeamUnassigned Team = "unassigned"
)

// TurnDuration is how long a captain has to make a pick. The client countdown
// renders the same 15 seconds.
const TurnDuration = 15 * time.Second

type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Elo         int    `json:"elo"`
	Team        Team   `json:"team"`
	IsBot       bool   `json:"isBot,omitempty"`
	// JoinOrder is the 0-based position the player joined at. It breaks ELO
	// ties for captain selection and auto-picks, and decides locked team names.
	JoinOrder int `json:"joinOrder"`
}

type Pick struct {
	PickerID string    `json:"pickerId"`
	PlayerID string    `json:"pickedPlayerId"`
	At       time.Time `json:"at"`
}

// DraftState exists only while Status == drafting.
type DraftState struct {
	// Pool holds undrafted players in join order. The order matters to the UI
	// but not to correctness.
	Pool        []Player  `json:"pool"`
	CurrentTurn Team      `json:"currentTurn"`
	PickHistory []Pick    `json:"pickHistory"`
	Deadline    time.Time `json:"draftDeadline"`
}

// Match is the authoritative record the owning lobby actor mutates. Everything
// a client renders comes from a snapshot of this struct.
type Match struct {
	ID              string
	Status          Status
	Type            MatchType
	MaxPlayers      int
	HostID          string
	CaptainAlphaID  string
	CaptainBravoID  string
	LockedTeamNames map[Team]string
	Players         []Player // join order
	Draft           *DraftState
	WinnerTeam      Team
	ScreenshotURL   string
}

func NewMatch(id, hostID string, t MatchType, maxPlayers int, host Player) *Match {
	host.Team = TeamUnassigned
	host.JoinOrder = 0
	return &Match{
		ID:         id,
		Status:     StatusWaiting,
		Type:       t,
		MaxPlayers: maxPlayers,
		HostID:     hostID,
		Players:    []Player{host},
	}
}

// Clone returns a deep copy so Apply never aliases the caller's slices.
func (m *Match) Clone() *Match {
	c := *m
	c.Players = append([]Player(nil), m.Players...)
	if m.LockedTeamNames != nil {
		c.LockedTeamNames = make(map[Team]string, len(m.LockedTeamNames))
		for k, v := range m.LockedTeamNames {
			c.LockedTeamNames[k] = v
		}
	}
	if m.Draft != nil {
		d := *m.Draft
		d.Pool = append([]Player(nil), m.Draft.Pool...)
		d.PickHistory = append([]Pick(nil), m.Draft.PickHistory...)
		c.Draft = &d
	}
	return &c
}

func (m *Match) PlayerByID(id string) (Player, bool) {
	for _, p := range m.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// TeamRoster returns team members ordered by join order.
func (m *Match) TeamRoster(team Team) []Player {
	var out []Player
	for _, p := range m.Players {
		if p.Team == team {
			out = append(out, p)
		}
	}
	return out
}

func (m *Match) captainID(turn Team) string {
	if turn == TeamBravo {
		return m.CaptainBravoID
	}
	return m.CaptainAlphaID
}

// selectCaptains returns the two captains: top-2 by ELO across the roster,
// ties broken by join order. The highest-rated captain leads team alpha.
func selectCaptains(players []Player) (alpha, bravo Player) {
	ranked := append([]Player(nil), players...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Elo != ranked[j].Elo {
			return ranked[i].Elo > ranked[j].Elo
		}
		return ranked[i].JoinOrder < ranked[j].JoinOrder
	})
	return ranked[0], ranked[1]
}

// lockTeamNames derives the frozen display names at the moment a match goes
// in_progress: each team is named after its first-joined member.
func lockTeamNames(m *Match) map[Team]string {
	names := make(map[Team]string, 2)
	for _, team := range []Team{TeamAlpha, TeamBravo} {
		first := Player{JoinOrder: int(^uint(0) >> 1)}
		for _, p := range m.Players {
			if p.Team == team && p.JoinOrder < first.JoinOrder {
				first = p
			}
		}
		names[team] = "Team " + first.DisplayName
	}
	return names
}
