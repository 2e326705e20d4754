package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fivestack-gg/match-coordinator/internal/engine"
	"github.com/fivestack-gg/match-coordinator/internal/protocol"
	"github.com/fivestack-gg/match-coordinator/internal/store"
)

// t0 anchors command clocks near real time so rearmed draft deadlines stay in
// the future for the duration of a test.
var t0 = time.Now()

type fakeStore struct {
	mu       sync.Mutex
	saves    int
	failNext bool
	last     *engine.Match
}

var errStoreDown = errors.New("store down")

func (f *fakeStore) CreateMatch(ctx context.Context, m *engine.Match) error { return nil }

func (f *fakeStore) SaveMatch(ctx context.Context, m *engine.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errStoreDown
	}
	f.saves++
	f.last = m.Clone()
	return nil
}

func (f *fakeStore) GetMatch(ctx context.Context, id string) (*engine.Match, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// draftingMatch: 6-player competitive match in drafting state. Captains are
// p2 (alpha, 1500) and p4 (bravo, 1400); pool is p0, p1, p3, p5.
func draftingMatch(t *testing.T) *engine.Match {
	t.Helper()
	m := engine.NewMatch("m1", "p0", engine.TypeCompetitive, 6,
		engine.Player{ID: "p0", DisplayName: "Player 0", Elo: 1000})
	elos := []int{1100, 1500, 1200, 1400, 1300}
	for i, elo := range elos {
		var err error
		_, m, err = engine.Apply(m, engine.Command{Type: engine.CmdJoin, Player: engine.Player{
			ID:          fmt.Sprintf("p%d", i+1),
			DisplayName: fmt.Sprintf("Player %d", i+1),
			Elo:         elo,
		}})
		if err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	_, m, err := engine.Apply(m, engine.Command{Type: engine.CmdStartMatch, ActorID: "p0", Now: t0})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return m
}

func recvMsg(t *testing.T, ch <-chan protocol.ServerMessage, within time.Duration) protocol.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return protocol.ServerMessage{} // unreachable
	}
}

func recvNoMsg(t *testing.T, ch <-chan protocol.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no message within %v, got %+v", within, msg)
	case <-time.After(within):
	}
}

func view(t *testing.T, l *Lobby) View {
	t.Helper()
	reply := make(chan View, 1)
	l.Inbox() <- GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func newTestLobby(t *testing.T, m *engine.Match) (*Lobby, *fakeStore) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := &fakeStore{}
	return New(ctx, m, st, zap.NewNop()), st
}

func TestSubscribe_SendsImmediateSnapshot(t *testing.T) {
	l, _ := newTestLobby(t, draftingMatch(t))

	out := make(chan protocol.ServerMessage, 4)
	l.Inbox() <- Subscribe{SessionID: "s1", UserID: "p0", Outbox: out}

	snap := recvMsg(t, out, time.Second)
	if snap.Type != protocol.MsgLobbyUpdate {
		t.Fatalf("want LOBBY_UPDATE, got %s", snap.Type)
	}
	if snap.Version != 0 {
		t.Fatalf("want version 0, got %d", snap.Version)
	}
	if snap.Lobby == nil || snap.Lobby.DraftState == nil {
		t.Fatalf("drafting snapshot must carry draft state: %+v", snap)
	}
	if len(snap.Lobby.DraftState.Pool) != 4 {
		t.Fatalf("want pool of 4, got %d", len(snap.Lobby.DraftState.Pool))
	}
}

func TestPick_BroadcastsInCommitOrder(t *testing.T) {
	l, st := newTestLobby(t, draftingMatch(t))

	outA := make(chan protocol.ServerMessage, 8)
	outB := make(chan protocol.ServerMessage, 8)
	l.Inbox() <- Subscribe{SessionID: "a", UserID: "p2", Outbox: outA}
	l.Inbox() <- Subscribe{SessionID: "b", UserID: "p4", Outbox: outB}
	_ = recvMsg(t, outA, time.Second)
	_ = recvMsg(t, outB, time.Second)

	l.Inbox() <- FromClient{SessionID: "a", Cmd: engine.Command{
		Type: engine.CmdPick, ActorID: "p2", TargetID: "p5", Now: t0}}
	l.Inbox() <- FromClient{SessionID: "b", Cmd: engine.Command{
		Type: engine.CmdPick, ActorID: "p4", TargetID: "p3", Now: t0}}

	for _, out := range []chan protocol.ServerMessage{outA, outB} {
		first := recvMsg(t, out, time.Second)
		second := recvMsg(t, out, time.Second)
		if first.Type != protocol.MsgDraftUpdate || second.Type != protocol.MsgDraftUpdate {
			t.Fatalf("want two DRAFT_UPDATEs, got %s then %s", first.Type, second.Type)
		}
		if first.Version != 1 || second.Version != 2 {
			t.Fatalf("deltas out of order: versions %d, %d", first.Version, second.Version)
		}
		if got := first.DraftState.PickHistory[0].PickedPlayerID; got != "p5" {
			t.Fatalf("first delta should carry pick p5, got %s", got)
		}
	}
	if st.saveCount() != 2 {
		t.Fatalf("want 2 durable writes, got %d", st.saveCount())
	}
}

func TestPick_RejectionGoesOnlyToRequester(t *testing.T) {
	l, st := newTestLobby(t, draftingMatch(t))

	outA := make(chan protocol.ServerMessage, 8)
	outB := make(chan protocol.ServerMessage, 8)
	l.Inbox() <- Subscribe{SessionID: "a", UserID: "p4", Outbox: outA}
	l.Inbox() <- Subscribe{SessionID: "b", UserID: "p2", Outbox: outB}
	_ = recvMsg(t, outA, time.Second)
	_ = recvMsg(t, outB, time.Second)

	// Bravo's captain tries to pick out of turn.
	l.Inbox() <- FromClient{SessionID: "a", Cmd: engine.Command{
		Type: engine.CmdPick, ActorID: "p4", TargetID: "p5", Now: t0}}

	errMsg := recvMsg(t, outA, time.Second)
	if errMsg.Type != protocol.MsgError || errMsg.Code != protocol.CodeWrongTurn {
		t.Fatalf("want ERROR/WRONG_TURN, got %s/%s", errMsg.Type, errMsg.Code)
	}
	recvNoMsg(t, outB, 100*time.Millisecond)

	if v := view(t, l); v.Version != 0 {
		t.Fatalf("rejection must not commit, version=%d", v.Version)
	}
	if st.saveCount() != 0 {
		t.Fatalf("rejection must not touch the store")
	}
}

func TestPick_StoreFailureIsNotBroadcast(t *testing.T) {
	m := draftingMatch(t)
	l, st := newTestLobby(t, m)
	st.failNext = true

	out := make(chan protocol.ServerMessage, 8)
	l.Inbox() <- Subscribe{SessionID: "a", UserID: "p2", Outbox: out}
	_ = recvMsg(t, out, time.Second)

	l.Inbox() <- FromClient{SessionID: "a", Cmd: engine.Command{
		Type: engine.CmdPick, ActorID: "p2", TargetID: "p5", Now: t0}}

	errMsg := recvMsg(t, out, time.Second)
	if errMsg.Type != protocol.MsgError || errMsg.Code != protocol.CodeInternal {
		t.Fatalf("want ERROR/INTERNAL, got %s/%s", errMsg.Type, errMsg.Code)
	}

	v := view(t, l)
	if v.Version != 0 || len(v.Match.Draft.Pool) != 4 {
		t.Fatalf("failed write must leave state untouched: version=%d pool=%d", v.Version, len(v.Match.Draft.Pool))
	}

	// The same pick retried succeeds once the store is back.
	l.Inbox() <- FromClient{SessionID: "a", Cmd: engine.Command{
		Type: engine.CmdPick, ActorID: "p2", TargetID: "p5", Now: t0}}
	next := recvMsg(t, out, time.Second)
	if next.Type != protocol.MsgDraftUpdate || next.Version != 1 {
		t.Fatalf("retry should commit: %s v%d", next.Type, next.Version)
	}
}

func TestRequestState_IdempotentSnapshot(t *testing.T) {
	l, _ := newTestLobby(t, draftingMatch(t))

	out := make(chan protocol.ServerMessage, 8)
	l.Inbox() <- Subscribe{SessionID: "a", UserID: "p2", Outbox: out}
	_ = recvMsg(t, out, time.Second)

	l.Inbox() <- RequestState{SessionID: "a"}
	l.Inbox() <- RequestState{SessionID: "a"}

	first, _ := json.Marshal(recvMsg(t, out, time.Second))
	second, _ := json.Marshal(recvMsg(t, out, time.Second))
	if string(first) != string(second) {
		t.Fatalf("back-to-back snapshots differ:\n%s\n%s", first, second)
	}
}

func TestReconnect_RecoversCommittedDraftState(t *testing.T) {
	l, _ := newTestLobby(t, draftingMatch(t))

	out := make(chan protocol.ServerMessage, 8)
	l.Inbox() <- Subscribe{SessionID: "a", UserID: "p2", Outbox: out}
	_ = recvMsg(t, out, time.Second)

	l.Inbox() <- FromClient{SessionID: "a", Cmd: engine.Command{
		Type: engine.CmdPick, ActorID: "p2", TargetID: "p5", Now: t0}}
	_ = recvMsg(t, out, time.Second)

	// Simulated refresh: the socket drops, a new session subscribes and asks
	// for current state. No history replay, just the snapshot.
	l.Inbox() <- Unsubscribe{SessionID: "a"}
	out2 := make(chan protocol.ServerMessage, 8)
	l.Inbox() <- Subscribe{SessionID: "a2", UserID: "p2", Outbox: out2}

	snap := recvMsg(t, out2, time.Second)
	d := snap.Lobby.DraftState
	if d == nil {
		t.Fatalf("snapshot missing draft state")
	}
	if len(d.Pool) != 3 {
		t.Fatalf("pool should exclude the committed pick: %d", len(d.Pool))
	}
	for _, p := range d.Pool {
		if p.ID == "p5" {
			t.Fatalf("picked player still in pool")
		}
	}
	if len(d.PickHistory) != 1 || d.PickHistory[0].PickedPlayerID != "p5" {
		t.Fatalf("pick history incomplete: %+v", d.PickHistory)
	}
}

func TestTimer_ExpiredDeadlineAutoPicks(t *testing.T) {
	m := draftingMatch(t)
	// Deadline already in the past: the supervisor fires as soon as the actor
	// starts and drafts the best remaining player for the absent captain.
	m.Draft.Deadline = time.Now().Add(-time.Second)
	l, _ := newTestLobby(t, m)

	out := make(chan protocol.ServerMessage, 8)
	l.Inbox() <- Subscribe{SessionID: "a", UserID: "p4", Outbox: out}

	// The fire races the subscribe: either the join snapshot already carries
	// the auto-pick, or a DRAFT_UPDATE follows it.
	var d *protocol.DraftView
	snap := recvMsg(t, out, time.Second)
	if snap.Lobby != nil && snap.Lobby.DraftState != nil && len(snap.Lobby.DraftState.PickHistory) == 1 {
		d = snap.Lobby.DraftState
	} else {
		update := recvMsg(t, out, 2*time.Second)
		if update.Type != protocol.MsgDraftUpdate {
			t.Fatalf("want DRAFT_UPDATE after expiry, got %s", update.Type)
		}
		d = update.DraftState
	}

	if got := d.PickHistory[0].PickedPlayerID; got != "p5" {
		t.Fatalf("auto-pick should take highest ELO (p5), got %s", got)
	}
	if d.CurrentTurn != string(engine.TeamBravo) {
		t.Fatalf("turn should advance to bravo, got %s", d.CurrentTurn)
	}
}

func TestTimer_StaleFireIsNoOp(t *testing.T) {
	l, _ := newTestLobby(t, draftingMatch(t))

	out := make(chan protocol.ServerMessage, 8)
	l.Inbox() <- Subscribe{SessionID: "a", UserID: "p2", Outbox: out}
	_ = recvMsg(t, out, time.Second)

	// Sync with the loop so reading timerGen does not race, then forge a fire
	// for a generation that a manual pick is about to invalidate.
	_ = view(t, l)
	staleGen := l.timerGen

	l.Inbox() <- FromClient{SessionID: "a", Cmd: engine.Command{
		Type: engine.CmdPick, ActorID: "p2", TargetID: "p5", Now: t0}}
	_ = recvMsg(t, out, time.Second)

	l.Inbox() <- TimerFired{Gen: staleGen}
	recvNoMsg(t, out, 200*time.Millisecond)

	if v := view(t, l); v.Version != 1 {
		t.Fatalf("stale fire must not commit anything, version=%d", v.Version)
	}
}

func TestDraftCompletion_EmitsMatchStartAndStopsTimer(t *testing.T) {
	l, _ := newTestLobby(t, draftingMatch(t))

	out := make(chan protocol.ServerMessage, 16)
	l.Inbox() <- Subscribe{SessionID: "a", UserID: "p2", Outbox: out}
	_ = recvMsg(t, out, time.Second)

	picks := []struct{ actor, target string }{
		{"p2", "p1"}, {"p4", "p5"}, {"p2", "p0"}, {"p4", "p3"},
	}
	for _, p := range picks {
		l.Inbox() <- FromClient{SessionID: "a", Cmd: engine.Command{
			Type: engine.CmdPick, ActorID: p.actor, TargetID: p.target, Now: t0}}
	}

	var sawMatchStart bool
	for i := 0; i < 8 && !sawMatchStart; i++ {
		msg := recvMsg(t, out, time.Second)
		if msg.Type == protocol.MsgMatchStart {
			sawMatchStart = true
		}
	}
	if !sawMatchStart {
		t.Fatalf("draft completion must announce MATCH_START")
	}

	v := view(t, l)
	if v.Match.Status != engine.StatusInProgress {
		t.Fatalf("want in_progress, got %s", v.Match.Status)
	}
	if len(v.Match.LockedTeamNames) != 2 {
		t.Fatalf("team names must be locked: %+v", v.Match.LockedTeamNames)
	}
}

func TestHTTPReply_PathReportsErrors(t *testing.T) {
	l, _ := newTestLobby(t, draftingMatch(t))

	reply := make(chan error, 1)
	l.Inbox() <- FromClient{Cmd: engine.Command{
		Type: engine.CmdPick, ActorID: "p4", TargetID: "p5", Now: t0}, Reply: reply}

	select {
	case err := <-reply:
		if !errors.Is(err, engine.ErrWrongTurn) {
			t.Fatalf("want ErrWrongTurn, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for reply")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	l, _ := newTestLobby(t, draftingMatch(t))

	out := make(chan protocol.ServerMessage, 1)
	l.Inbox() <- Subscribe{SessionID: "slow", UserID: "p0", Outbox: out}
	// Never drained: the join snapshot fills the buffer, the next broadcast
	// cannot be delivered.
	l.Inbox() <- FromClient{SessionID: "slow", Cmd: engine.Command{
		Type: engine.CmdPick, ActorID: "p2", TargetID: "p5", Now: t0}}

	if v := view(t, l); v.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", v.NumClients)
	}
}

// The outbox channel is owned by the socket side. A lobby that drops a slow
// subscriber must leave it open: the same channel keeps carrying targeted
// frames and can be resubscribed to another lobby, and a close here would be
// an unrecovered panic in whichever actor sends next.
func TestDroppedOutbox_StaysUsableByOtherLobbies(t *testing.T) {
	mA := draftingMatch(t)
	mB := draftingMatch(t)
	mB.ID = "m2"
	lA, _ := newTestLobby(t, mA)
	lB, _ := newTestLobby(t, mB)

	out := make(chan protocol.ServerMessage, 1)
	lA.Inbox() <- Subscribe{SessionID: "s1", UserID: "p0", Outbox: out}
	// Undrained: the join snapshot fills the buffer, the next broadcast
	// overflows it and lobby A drops the session.
	lA.Inbox() <- FromClient{SessionID: "s1", Cmd: engine.Command{
		Type: engine.CmdPick, ActorID: "p2", TargetID: "p5", Now: t0}}
	if v := view(t, lA); v.NumClients != 0 {
		t.Fatalf("expected lobby A to drop the slow client; NumClients=%d", v.NumClients)
	}

	// Drain the stale snapshot and hand the same channel to lobby B, exactly
	// as a socket switching lobbies does.
	_ = recvMsg(t, out, time.Second)
	lB.Inbox() <- Subscribe{SessionID: "s1", UserID: "p0", Outbox: out}

	snap := recvMsg(t, out, time.Second)
	if snap.Type != protocol.MsgLobbyUpdate || snap.LobbyID != "m2" {
		t.Fatalf("want lobby B snapshot on the reused outbox, got %s for %s", snap.Type, snap.LobbyID)
	}
}

func TestShutdown_StopsDelivery(t *testing.T) {
	l, _ := newTestLobby(t, draftingMatch(t))

	out := make(chan protocol.ServerMessage, 4)
	l.Inbox() <- Subscribe{SessionID: "a", UserID: "p0", Outbox: out}
	_ = recvMsg(t, out, time.Second)

	l.Inbox() <- Shutdown{}

	// The actor is gone; no further frames arrive and the outbox stays open
	// for its owning socket.
	l.Inbox() <- RequestState{SessionID: "a"}
	recvNoMsg(t, out, 200*time.Millisecond)
}
