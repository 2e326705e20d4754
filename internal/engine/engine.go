package engine

import (
	"slices"
	"time"
)

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdLeave        CommandType = "Leave"
	CmdSwitchTeam   CommandType = "SwitchTeam"
	CmdKick         CommandType = "Kick"
	CmdFillBots     CommandType = "FillBots"
	CmdStartMatch   CommandType = "StartMatch"
	CmdPick         CommandType = "Pick"
	CmdTimeoutPick  CommandType = "TimeoutPick"
	CmdCancel       CommandType = "Cancel"
	CmdSubmitResult CommandType = "SubmitResult"
)

type Command struct {
	Type    CommandType
	ActorID string // user issuing the command; empty for supervisor-driven commands
	// TargetID names the picked player for Pick, the kicked player for Kick.
	TargetID   string
	Team       Team // SwitchTeam destination, SubmitResult winner
	Screenshot string
	Player     Player    // Join payload
	Now        time.Time // injected clock so deadlines and timeout picks are deterministic
}

type EventType string

const (
	EvtRosterChanged  EventType = "RosterChanged"
	EvtStatusChanged  EventType = "StatusChanged"
	EvtDraftStarted   EventType = "DraftStarted"
	EvtPickApplied    EventType = "PickApplied"
	EvtDraftCompleted EventType = "DraftCompleted"
	EvtResultRecorded EventType = "ResultRecorded"
)

type Event struct {
	Type   EventType
	Status Status
	Pick   *Pick
}

// Apply validates cmd against the current match state and returns the events
// plus the successor state. The input match is never mutated; on error it is
// returned unchanged. All turn and lifecycle rules live here so the lobby
// actor stays a thin serialization shell.
func Apply(m *Match, cmd Command) ([]Event, *Match, error) {
	if m.Status.Terminal() {
		return nil, m, ErrInvalidState
	}

	switch cmd.Type {
	case CmdJoin:
		return applyJoin(m, cmd)
	case CmdLeave:
		return applyLeave(m, cmd)
	case CmdSwitchTeam:
		return applySwitchTeam(m, cmd)
	case CmdKick:
		return applyKick(m, cmd)
	case CmdFillBots:
		return applyFillBots(m, cmd)
	case CmdStartMatch:
		return applyStart(m, cmd)
	case CmdPick:
		return applyPick(m, cmd, false)
	case CmdTimeoutPick:
		return applyTimeoutPick(m, cmd)
	case CmdCancel:
		return applyCancel(m, cmd)
	case CmdSubmitResult:
		return applySubmitResult(m, cmd)
	default:
		return nil, m, ErrUnsupportedCommand
	}
}

func applyJoin(m *Match, cmd Command) ([]Event, *Match, error) {
	if m.Status != StatusWaiting {
		return nil, m, ErrInvalidState
	}
	if len(m.Players) >= m.MaxPlayers {
		return nil, m, ErrMatchFull
	}
	if _, ok := m.PlayerByID(cmd.Player.ID); ok {
		return nil, m, ErrAlreadyJoined
	}

	next := m.Clone()
	p := cmd.Player
	p.Team = TeamUnassigned
	p.JoinOrder = len(next.Players)
	next.Players = append(next.Players, p)

	events := []Event{{Type: EvtRosterChanged}}

	// Draft-less clan lobbies go live on their own the moment the roster fills.
	if !m.Type.RequiresDraft() && m.Type != TypeCasual && len(next.Players) == next.MaxPlayers {
		next.Status = StatusInProgress
		next.LockedTeamNames = lockTeamNames(next)
		events = append(events, Event{Type: EvtStatusChanged, Status: StatusInProgress})
	}
	return events, next, nil
}

func applyLeave(m *Match, cmd Command) ([]Event, *Match, error) {
	if m.Status != StatusWaiting {
		return nil, m, ErrInvalidState
	}
	if cmd.ActorID == m.HostID {
		// The host cannot abandon a lobby they own; cancelling is the way out.
		return nil, m, ErrInvalidState
	}
	next, ok := removePlayer(m, cmd.ActorID)
	if !ok {
		return nil, m, ErrNotInMatch
	}
	return []Event{{Type: EvtRosterChanged}}, next, nil
}

func applySwitchTeam(m *Match, cmd Command) ([]Event, *Match, error) {
	if m.Status != StatusWaiting || m.Type.RequiresDraft() {
		return nil, m, ErrInvalidState
	}
	if cmd.Team != TeamAlpha && cmd.Team != TeamBravo && cmd.Team != TeamUnassigned {
		return nil, m, ErrInvalidTarget
	}
	next := m.Clone()
	for i := range next.Players {
		if next.Players[i].ID == cmd.ActorID {
			next.Players[i].Team = cmd.Team
			return []Event{{Type: EvtRosterChanged}}, next, nil
		}
	}
	return nil, m, ErrNotInMatch
}

func applyKick(m *Match, cmd Command) ([]Event, *Match, error) {
	if cmd.ActorID != m.HostID {
		return nil, m, ErrNotHost
	}
	// Kicks are legal while waiting and after play begins (late kicks), but
	// never mid-draft where they would corrupt the pool accounting.
	if m.Status != StatusWaiting && m.Status != StatusInProgress {
		return nil, m, ErrInvalidState
	}
	if cmd.TargetID == m.HostID {
		return nil, m, ErrInvalidTarget
	}
	next, ok := removePlayer(m, cmd.TargetID)
	if !ok {
		return nil, m, ErrInvalidTarget
	}
	// LockedTeamNames were copied by Clone and stay untouched: kicking the
	// eponymous member does not rename the team.
	return []Event{{Type: EvtRosterChanged}}, next, nil
}

func applyFillBots(m *Match, cmd Command) ([]Event, *Match, error) {
	if cmd.ActorID != m.HostID {
		return nil, m, ErrNotHost
	}
	if m.Status != StatusWaiting {
		return nil, m, ErrInvalidState
	}
	if len(m.Players) >= m.MaxPlayers {
		return nil, m, ErrMatchFull
	}
	next := m.Clone()
	for len(next.Players) < next.MaxPlayers {
		n := len(next.Players)
		next.Players = append(next.Players, botPlayer(next.ID, n))
	}
	return []Event{{Type: EvtRosterChanged}}, next, nil
}

func applyStart(m *Match, cmd Command) ([]Event, *Match, error) {
	if cmd.ActorID != m.HostID {
		return nil, m, ErrNotHost
	}
	if m.Status != StatusWaiting {
		return nil, m, ErrInvalidState
	}

	next := m.Clone()

	if !m.Type.RequiresDraft() {
		next.Status = StatusInProgress
		next.LockedTeamNames = lockTeamNames(next)
		return []Event{{Type: EvtStatusChanged, Status: StatusInProgress}}, next, nil
	}

	// Captain drafting needs the full roster so the teams come out even.
	if len(m.Players) < m.MaxPlayers {
		return nil, m, ErrInvalidState
	}

	alpha, bravo := selectCaptains(next.Players)
	next.CaptainAlphaID = alpha.ID
	next.CaptainBravoID = bravo.ID

	pool := make([]Player, 0, len(next.Players)-2)
	for i := range next.Players {
		switch next.Players[i].ID {
		case alpha.ID:
			next.Players[i].Team = TeamAlpha
		case bravo.ID:
			next.Players[i].Team = TeamBravo
		default:
			next.Players[i].Team = TeamUnassigned
			pool = append(pool, next.Players[i])
		}
	}

	next.Status = StatusDrafting
	next.Draft = &DraftState{
		Pool:        pool,
		CurrentTurn: TeamAlpha,
		PickHistory: []Pick{},
		Deadline:    cmd.Now.Add(TurnDuration),
	}
	return []Event{
		{Type: EvtStatusChanged, Status: StatusDrafting},
		{Type: EvtDraftStarted},
	}, next, nil
}

func applyPick(m *Match, cmd Command, timeout bool) ([]Event, *Match, error) {
	if m.Status != StatusDrafting || m.Draft == nil {
		return nil, m, ErrInvalidState
	}
	if !timeout && cmd.ActorID != m.captainID(m.Draft.CurrentTurn) {
		return nil, m, ErrWrongTurn
	}

	next := m.Clone()
	d := next.Draft

	idx := slices.IndexFunc(d.Pool, func(p Player) bool { return p.ID == cmd.TargetID })
	if idx < 0 {
		return nil, m, ErrInvalidTarget
	}

	pickerID := next.captainID(d.CurrentTurn)
	team := d.CurrentTurn

	d.Pool = append(d.Pool[:idx], d.Pool[idx+1:]...)
	for i := range next.Players {
		if next.Players[i].ID == cmd.TargetID {
			next.Players[i].Team = team
		}
	}
	pick := Pick{PickerID: pickerID, PlayerID: cmd.TargetID, At: cmd.Now}
	d.PickHistory = append(d.PickHistory, pick)

	events := []Event{{Type: EvtPickApplied, Pick: &pick}}

	if len(d.Pool) == 0 {
		next.Status = StatusInProgress
		next.LockedTeamNames = lockTeamNames(next)
		next.Draft = nil
		events = append(events,
			Event{Type: EvtDraftCompleted},
			Event{Type: EvtStatusChanged, Status: StatusInProgress},
		)
		return events, next, nil
	}

	// Strict alternation, never a snake draft.
	if d.CurrentTurn == TeamAlpha {
		d.CurrentTurn = TeamBravo
	} else {
		d.CurrentTurn = TeamAlpha
	}
	d.Deadline = cmd.Now.Add(TurnDuration)
	return events, next, nil
}

// applyTimeoutPick drafts on behalf of a captain who let the clock run out.
// Policy: highest-ELO player remaining in the pool, ties broken by join order.
// The rule depends only on pool contents, so every session observing the same
// expired deadline computes the same result.
func applyTimeoutPick(m *Match, cmd Command) ([]Event, *Match, error) {
	if m.Status != StatusDrafting || m.Draft == nil || len(m.Draft.Pool) == 0 {
		return nil, m, ErrInvalidState
	}
	best := m.Draft.Pool[0]
	for _, p := range m.Draft.Pool[1:] {
		if p.Elo > best.Elo || (p.Elo == best.Elo && p.JoinOrder < best.JoinOrder) {
			best = p
		}
	}
	cmd.TargetID = best.ID
	return applyPick(m, cmd, true)
}

func applyCancel(m *Match, cmd Command) ([]Event, *Match, error) {
	if cmd.ActorID != m.HostID {
		return nil, m, ErrNotHost
	}
	next := m.Clone()
	next.Status = StatusCancelled
	next.Draft = nil
	return []Event{{Type: EvtStatusChanged, Status: StatusCancelled}}, next, nil
}

func applySubmitResult(m *Match, cmd Command) ([]Event, *Match, error) {
	if m.Status != StatusInProgress {
		return nil, m, ErrInvalidState
	}
	if m.Type == TypeCasual {
		// Casual hosts just finish the lobby, winner optional.
		if cmd.ActorID != m.HostID {
			return nil, m, ErrNotHost
		}
	} else {
		// Ranked results need a winner and proof.
		if cmd.Team != TeamAlpha && cmd.Team != TeamBravo {
			return nil, m, ErrInvalidTarget
		}
		if cmd.Screenshot == "" {
			return nil, m, ErrInvalidTarget
		}
	}
	next := m.Clone()
	next.Status = StatusCompleted
	next.WinnerTeam = cmd.Team
	next.ScreenshotURL = cmd.Screenshot
	return []Event{
		{Type: EvtResultRecorded},
		{Type: EvtStatusChanged, Status: StatusCompleted},
	}, next, nil
}

func removePlayer(m *Match, id string) (*Match, bool) {
	idx := slices.IndexFunc(m.Players, func(p Player) bool { return p.ID == id })
	if idx < 0 {
		return nil, false
	}
	next := m.Clone()
	next.Players = append(next.Players[:idx], next.Players[idx+1:]...)
	return next, true
}
