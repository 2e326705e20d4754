// Package lobby runs one actor goroutine per match. The actor owns the
// authoritative engine.Match, serializes every mutation, persists committed
// state to the Match Store before fanning it out, and supervises the draft
// turn timer.
package lobby

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fivestack-gg/match-coordinator/internal/engine"
	"github.com/fivestack-gg/match-coordinator/internal/protocol"
	"github.com/fivestack-gg/match-coordinator/internal/store"
)

type Msg interface{ isLobbyMsg() }

// Subscribe registers a session's outbox and immediately replies with a full
// snapshot on it.
type Subscribe struct {
	SessionID string
	UserID    string
	Outbox    chan protocol.ServerMessage
}

func (Subscribe) isLobbyMsg() {}

type Unsubscribe struct{ SessionID string }

func (Unsubscribe) isLobbyMsg() {}

// FromClient carries a validated engine command. Rejections go to Reply when
// set (HTTP callers), otherwise to the session's outbox; they are never
// broadcast.
type FromClient struct {
	SessionID string
	Cmd       engine.Command
	Reply     chan error
}

func (FromClient) isLobbyMsg() {}

// RequestState is the recovery path: the reply is always a full snapshot of
// current authoritative state, no message history involved.
type RequestState struct{ SessionID string }

func (RequestState) isLobbyMsg() {}

// TimerFired is posted by the armed turn timer. Gen guards against stale
// fires: a timer armed for an old deadline is a no-op.
type TimerFired struct{ Gen uint64 }

func (TimerFired) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

// GetView reflects internal state without data races; used by tests and the
// HTTP read path.
type GetView struct{ Reply chan View }

func (GetView) isLobbyMsg() {}

type View struct {
	Version    int
	NumClients int
	Match      *engine.Match
}

type Lobby struct {
	inbox    chan Msg
	match    *engine.Match
	version  int
	clients  map[string]chan protocol.ServerMessage
	users    map[string]string // sessionID -> userID
	store    store.Store
	log      *zap.SugaredLogger
	now      func() time.Time
	timer    *time.Timer
	timerGen uint64
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(parent context.Context, m *engine.Match, st store.Store, log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	l := &Lobby{
		inbox:   make(chan Msg, 64),
		match:   m,
		clients: make(map[string]chan protocol.ServerMessage),
		users:   make(map[string]string),
		store:   st,
		log:     log.Sugar().With("matchId", m.ID),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	go l.loop()
	return l
}

func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// MatchID is safe to read concurrently; it never changes after construction.
func (l *Lobby) MatchID() string { return l.match.ID }

func (l *Lobby) loop() {
	// A restarted server can adopt a match that is already mid-draft.
	if l.match.Status == engine.StatusDrafting {
		l.armTimer()
	}
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Subscribe:
				l.clients[msg.SessionID] = msg.Outbox
				l.users[msg.SessionID] = msg.UserID
				l.send(msg.SessionID, l.snapshot())

			case Unsubscribe:
				delete(l.clients, msg.SessionID)
				delete(l.users, msg.SessionID)

			case FromClient:
				l.handleCommand(msg)

			case RequestState:
				l.send(msg.SessionID, l.snapshot())

			case TimerFired:
				l.handleTimerFired(msg.Gen)

			case GetView:
				msg.Reply <- View{Version: l.version, NumClients: len(l.clients), Match: l.match.Clone()}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) handleCommand(msg FromClient) {
	cmd := msg.Cmd
	if cmd.Now.IsZero() {
		cmd.Now = l.now()
	}

	events, next, err := engine.Apply(l.match, cmd)
	if err != nil {
		l.reject(msg, err)
		return
	}
	if err := l.persist(next); err != nil {
		l.log.Errorw("store write failed, dropping mutation", "cmd", cmd.Type, "err", err)
		l.reject(msg, err)
		return
	}

	l.match = next
	l.version++
	l.broadcastEvents(events)
	l.rearmOrStop()

	if msg.Reply != nil {
		msg.Reply <- nil
	}
}

func (l *Lobby) handleTimerFired(gen uint64) {
	if gen != l.timerGen || l.match.Status != engine.StatusDrafting {
		return
	}
	now := l.now()
	if now.Before(l.match.Draft.Deadline) {
		// Deadline moved since this timer was armed; the current generation
		// check should already have caught it, but rearm defensively.
		l.armTimer()
		return
	}

	events, next, err := engine.Apply(l.match, engine.Command{Type: engine.CmdTimeoutPick, Now: now})
	if err != nil {
		l.log.Errorw("timeout pick rejected", "err", err)
		return
	}
	if err := l.persist(next); err != nil {
		l.log.Errorw("store write failed for timeout pick, retrying next fire", "err", err)
		l.armTimer()
		return
	}
	l.match = next
	l.version++
	l.broadcastEvents(events)
	l.rearmOrStop()
}

func (l *Lobby) persist(m *engine.Match) error {
	ctx, cancel := context.WithTimeout(l.ctx, 5*time.Second)
	defer cancel()
	return l.store.SaveMatch(ctx, m)
}

func (l *Lobby) reject(msg FromClient, err error) {
	if msg.Reply != nil {
		msg.Reply <- err
		return
	}
	code, text := protocol.ErrorCode(err)
	l.send(msg.SessionID, protocol.ErrorMessage(l.match.ID, code, text))
}

// broadcastEvents turns committed engine events into wire deltas. Only
// committed, durable state ever reaches this point.
func (l *Lobby) broadcastEvents(events []engine.Event) {
	m := l.match
	for _, e := range events {
		switch e.Type {
		case engine.EvtDraftStarted:
			l.broadcast(protocol.ServerMessage{
				Type:           protocol.MsgDraftStart,
				LobbyID:        m.ID,
				Version:        l.version,
				Status:         string(m.Status),
				DraftState:     protocol.NewDraftView(m.Draft),
				CaptainAlphaID: m.CaptainAlphaID,
				CaptainBravoID: m.CaptainBravoID,
			})

		case engine.EvtPickApplied:
			l.broadcast(protocol.ServerMessage{
				Type:       protocol.MsgDraftUpdate,
				MatchID:    m.ID,
				Version:    l.version,
				Status:     string(m.Status),
				DraftState: protocol.NewDraftView(m.Draft),
				TeamAlpha:  protocol.NewPlayerViews(m.TeamRoster(engine.TeamAlpha)),
				TeamBravo:  protocol.NewPlayerViews(m.TeamRoster(engine.TeamBravo)),
			})

		case engine.EvtStatusChanged:
			if e.Status == engine.StatusInProgress && engine.ContainsEvent(events, engine.EvtDraftCompleted) {
				l.broadcast(protocol.ServerMessage{
					Type:    protocol.MsgMatchStart,
					LobbyID: m.ID,
					Version: l.version,
					Status:  string(m.Status),
				})
				continue
			}
			l.broadcast(protocol.ServerMessage{
				Type:       protocol.MsgLobbyUpdated,
				MatchID:    m.ID,
				Version:    l.version,
				Status:     string(m.Status),
				DraftState: protocol.NewDraftView(m.Draft),
				Players:    protocol.NewPlayerViews(m.Players),
			})

		case engine.EvtRosterChanged:
			l.broadcast(protocol.ServerMessage{
				Type:    protocol.MsgLobbyUpdated,
				MatchID: m.ID,
				Version: l.version,
				Players: protocol.NewPlayerViews(m.Players),
			})
		}
	}
}

// snapshot is the full authoritative view served on subscribe and recovery.
// Identical state yields identical bytes; the deadline inside is absolute
// server time.
func (l *Lobby) snapshot() protocol.ServerMessage {
	return protocol.ServerMessage{
		Type:    protocol.MsgLobbyUpdate,
		LobbyID: l.match.ID,
		Version: l.version,
		Lobby:   protocol.NewLobbyView(l.match),
	}
}

func (l *Lobby) send(sessionID string, msg protocol.ServerMessage) {
	ch, ok := l.clients[sessionID]
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
		l.dropClient(sessionID)
	}
}

func (l *Lobby) broadcast(msg protocol.ServerMessage) {
	for id, ch := range l.clients {
		select {
		case ch <- msg:
		default:
			// Client is slow/full - drop them; they recover via REQUEST_MATCH_STATE.
			l.dropClient(id)
		}
	}
}

// dropClient stops delivering to a session. The outbox channel stays open:
// it is owned by the socket side, which may still push targeted frames on it
// or hand it to another lobby, so closing it here would crash that writer.
func (l *Lobby) dropClient(sessionID string) {
	if _, ok := l.clients[sessionID]; ok {
		delete(l.clients, sessionID)
		delete(l.users, sessionID)
		l.log.Warnw("dropped slow subscriber", "sessionId", sessionID)
	}
}

// rearmOrStop keeps exactly one armed timer per in-draft match.
func (l *Lobby) rearmOrStop() {
	if l.match.Status == engine.StatusDrafting {
		l.armTimer()
		return
	}
	l.stopTimer()
}

func (l *Lobby) armTimer() {
	l.stopTimer()
	l.timerGen++
	gen := l.timerGen
	d := l.match.Draft.Deadline.Sub(l.now())
	if d < 0 {
		d = 0
	}
	l.timer = time.AfterFunc(d, func() {
		select {
		case l.inbox <- TimerFired{Gen: gen}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	// Any in-flight fire for an older generation is ignored by the loop.
	l.timerGen++
}

func (l *Lobby) shutdown() {
	l.stopTimer()
	// Outboxes belong to their sockets; delivery just stops here.
	for id := range l.clients {
		delete(l.clients, id)
		delete(l.users, id)
	}
	l.cancel()
}
