// Package hub owns the arena of lobby actors, one per live match, keyed by
// match id. All registry access goes through the hub's own message loop so
// unrelated matches never contend on a shared lock.
package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fivestack-gg/match-coordinator/internal/engine"
	"github.com/fivestack-gg/match-coordinator/internal/lobby"
	"github.com/fivestack-gg/match-coordinator/internal/store"
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Match *engine.Match
	Reply chan *lobby.Lobby
}

// GetLobby resolves a match id to its actor. A miss falls back to the Match
// Store: a non-terminal match that survived a server restart gets a fresh
// actor, so recovery requests keep working across redeploys.
type GetLobby struct {
	MatchID string
	Reply   chan *lobby.Lobby
}

type RemoveLobby struct{ MatchID string }

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	store   store.Store
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, st store.Store, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		store:   st,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Get is a convenience wrapper around GetLobby for callers outside the actor
// world (HTTP handlers, the ws layer).
func (h *Hub) Get(matchID string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	h.inbox <- GetLobby{MatchID: matchID, Reply: reply}
	return <-reply
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if lb := h.lobbies[msg.Match.ID]; lb != nil {
					msg.Reply <- lb
					break
				}
				lb := lobby.New(h.ctx, msg.Match, h.store, h.log)
				h.lobbies[msg.Match.ID] = lb
				msg.Reply <- lb

			case GetLobby:
				if lb := h.lobbies[msg.MatchID]; lb != nil {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.revive(msg.MatchID)

			case RemoveLobby:
				if lb := h.lobbies[msg.MatchID]; lb != nil {
					lb.Inbox() <- lobby.Shutdown{}
					delete(h.lobbies, msg.MatchID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) revive(matchID string) *lobby.Lobby {
	ctx, cancel := context.WithTimeout(h.ctx, 3*time.Second)
	defer cancel()

	m, err := h.store.GetMatch(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		h.log.Error("match lookup failed", zap.String("matchId", matchID), zap.Error(err))
		return nil
	}
	if m.Status.Terminal() {
		return nil
	}
	h.log.Info("reviving match from store", zap.String("matchId", matchID))
	lb := lobby.New(h.ctx, m, h.store, h.log)
	h.lobbies[matchID] = lb
	return lb
}

func (h *Hub) shutdown() {
	for id, lb := range h.lobbies {
		lb.Inbox() <- lobby.Shutdown{}
		delete(h.lobbies, id)
	}
	h.cancel()
}
