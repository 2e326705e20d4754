// Package protocol defines the JSON frames exchanged over the lobby
// websocket. A type field discriminates; unknown fields are omitted rather
// than null so snapshots stay byte-stable for identical state.
package protocol

import (
	"github.com/fivestack-gg/match-coordinator/internal/engine"
)

// Client -> server message types.
const (
	MsgRegister          = "REGISTER"
	MsgJoinQueue         = "JOIN_QUEUE"
	MsgDraftPick         = "DRAFT_PICK"
	MsgRequestMatchState = "REQUEST_MATCH_STATE"
)

// Server -> client message types.
const (
	MsgRegisterAck     = "REGISTER_ACK"
	MsgDraftStart      = "DRAFT_START"
	MsgDraftUpdate     = "DRAFT_UPDATE"
	MsgMatchStart      = "MATCH_START"
	MsgLobbyUpdate     = "LOBBY_UPDATE"  // full snapshot
	MsgLobbyUpdated    = "LOBBY_UPDATED" // incremental delta
	MsgMatchStateError = "MATCH_STATE_ERROR"
	MsgError           = "ERROR"
)

// Error codes carried on ERROR frames.
const (
	CodeWrongTurn     = "WRONG_TURN"
	CodeInvalidTarget = "INVALID_TARGET"
	CodeInvalidState  = "INVALID_STATE"
	CodeNotHost       = "NOT_HOST"
	CodeMatchFull     = "MATCH_FULL"
	CodeInternal      = "INTERNAL"
)

type ClientMessage struct {
	Type           string `json:"type"`
	UserID         string `json:"userId,omitempty"`
	Username       string `json:"username,omitempty"`
	LobbyID        string `json:"lobbyId,omitempty"`
	PickedPlayerID string `json:"pickedPlayerId,omitempty"`
}

type PlayerView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Elo         int    `json:"elo"`
	Team        string `json:"team"`
	IsBot       bool   `json:"isBot,omitempty"`
}

type PickView struct {
	PickerID       string `json:"pickerId"`
	PickedPlayerID string `json:"pickedPlayerId"`
	At             int64  `json:"at"` // unix milliseconds
}

type DraftView struct {
	Pool        []PlayerView `json:"pool"`
	CurrentTurn string       `json:"currentTurn"`
	PickHistory []PickView   `json:"pickHistory"`
	// Deadline is absolute server time in unix milliseconds. Reconnecting
	// clients rebase their countdown off this, never off a stale local value.
	Deadline int64 `json:"draftDeadline"`
}

type LobbyView struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	MatchType       string            `json:"matchType"`
	MaxPlayers      int               `json:"maxPlayers"`
	HostID          string            `json:"hostId"`
	CaptainAlphaID  string            `json:"captainAlphaId,omitempty"`
	CaptainBravoID  string            `json:"captainBravoId,omitempty"`
	LockedTeamNames map[string]string `json:"lockedTeamNames,omitempty"`
	Players         []PlayerView      `json:"players"`
	DraftState      *DraftView        `json:"draftState,omitempty"`
	WinnerTeam      string            `json:"winnerTeam,omitempty"`
}

type ServerMessage struct {
	Type           string       `json:"type"`
	MatchID        string       `json:"matchId,omitempty"`
	LobbyID        string       `json:"lobbyId,omitempty"`
	Version        int          `json:"version,omitempty"`
	Status         string       `json:"status,omitempty"`
	Lobby          *LobbyView   `json:"lobby,omitempty"`
	DraftState     *DraftView   `json:"draftState,omitempty"`
	Players        []PlayerView `json:"players,omitempty"`
	TeamAlpha      []PlayerView `json:"teamA,omitempty"`
	TeamBravo      []PlayerView `json:"teamB,omitempty"`
	CaptainAlphaID string       `json:"captainAlphaId,omitempty"`
	CaptainBravoID string       `json:"captainBravoId,omitempty"`
	Code           string       `json:"code,omitempty"`
	Message        string       `json:"message,omitempty"`
}

func NewPlayerView(p engine.Player) PlayerView {
	return PlayerView{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Elo:         p.Elo,
		Team:        string(p.Team),
		IsBot:       p.IsBot,
	}
}

func NewPlayerViews(ps []engine.Player) []PlayerView {
	out := make([]PlayerView, len(ps))
	for i, p := range ps {
		out[i] = NewPlayerView(p)
	}
	return out
}

func NewDraftView(d *engine.DraftState) *DraftView {
	if d == nil {
		return nil
	}
	picks := make([]PickView, len(d.PickHistory))
	for i, p := range d.PickHistory {
		picks[i] = PickView{
			PickerID:       p.PickerID,
			PickedPlayerID: p.PlayerID,
			At:             p.At.UnixMilli(),
		}
	}
	return &DraftView{
		Pool:        NewPlayerViews(d.Pool),
		CurrentTurn: string(d.CurrentTurn),
		PickHistory: picks,
		Deadline:    d.Deadline.UnixMilli(),
	}
}

func NewLobbyView(m *engine.Match) *LobbyView {
	v := &LobbyView{
		ID:             m.ID,
		Status:         string(m.Status),
		MatchType:      string(m.Type),
		MaxPlayers:     m.MaxPlayers,
		HostID:         m.HostID,
		CaptainAlphaID: m.CaptainAlphaID,
		CaptainBravoID: m.CaptainBravoID,
		Players:        NewPlayerViews(m.Players),
		DraftState:     NewDraftView(m.Draft),
		WinnerTeam:     string(m.WinnerTeam),
	}
	if m.WinnerTeam == engine.TeamUnassigned || m.WinnerTeam == "" {
		v.WinnerTeam = ""
	}
	if len(m.LockedTeamNames) > 0 {
		v.LockedTeamNames = make(map[string]string, len(m.LockedTeamNames))
		for team, name := range m.LockedTeamNames {
			v.LockedTeamNames[string(team)] = name
		}
	}
	return v
}

// ErrorMessage builds the targeted rejection frame for a single session.
func ErrorMessage(matchID, code, msg string) ServerMessage {
	return ServerMessage{Type: MsgError, MatchID: matchID, Code: code, Message: msg}
}
