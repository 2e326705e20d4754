package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fivestack-gg/match-coordinator/internal/engine"
	"github.com/fivestack-gg/match-coordinator/internal/hub"
	"github.com/fivestack-gg/match-coordinator/internal/lobby"
	"github.com/fivestack-gg/match-coordinator/internal/protocol"
	"github.com/fivestack-gg/match-coordinator/internal/session"
	"github.com/fivestack-gg/match-coordinator/internal/store"
)

const (
	registerTimeout = 10 * time.Second
	writeTimeout    = 3 * time.Second
)

// Handler upgrades the connection and runs the session: a REGISTER handshake,
// then a read loop feeding lobby actors, with one writer goroutine draining
// the session outbox so all server frames leave in commit order.
func Handler(h *hub.Hub, st store.Store, reg *session.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &client{
			conn:     conn,
			hub:      h,
			store:    st,
			registry: reg,
			log:      log.Sugar(),
			socketID: uuid.NewString(),
			outbox:   make(chan protocol.ServerMessage, 16),
		}
		c.run(r.Context())
	}
}

type client struct {
	conn     *websocket.Conn
	hub      *hub.Hub
	store    store.Store
	registry *session.Registry
	log      *zap.SugaredLogger
	socketID string
	userID   string
	username string
	outbox   chan protocol.ServerMessage

	// subscribed is the lobby this socket currently observes; nil until the
	// first REQUEST_MATCH_STATE or JOIN_QUEUE.
	subscribed *lobby.Lobby
}

func (c *client) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if !c.register(ctx) {
		return
	}
	defer c.registry.Unregister(c.userID, c.socketID)
	defer c.unsubscribe()

	// Writer: the only goroutine that touches conn writes after registration.
	// The outbox is never closed; the writer exits with the session context.
	go func() {
		defer cancel()
		for {
			var msg protocol.ServerMessage
			select {
			case <-ctx.Done():
				return
			case msg = <-c.outbox:
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(wctx, websocket.MessageText, payload)
			wcancel()
			if err != nil {
				return
			}
		}
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					c.log.Debugw("socket read failed", "userId", c.userID, "err", err)
				}
			}
			return
		}

		var cm protocol.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.push(protocol.ErrorMessage("", protocol.CodeInvalidState, "bad json"))
			continue
		}
		c.handle(cm)
	}
}

// register blocks until the first frame, which must be a REGISTER binding the
// socket to a user identity. Registering kicks any older socket the same user
// holds.
func (c *client) register(ctx context.Context) bool {
	rctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	_, data, err := c.conn.Read(rctx)
	if err != nil {
		return false
	}
	var cm protocol.ClientMessage
	if err := json.Unmarshal(data, &cm); err != nil || cm.Type != protocol.MsgRegister || cm.UserID == "" {
		_ = c.writeDirect(ctx, protocol.ErrorMessage("", protocol.CodeInvalidState, "REGISTER required"))
		return false
	}

	c.userID = cm.UserID
	c.username = cm.Username
	c.registry.Register(cm.UserID, c.socketID, cm.Username, func() {
		c.conn.Close(websocket.StatusPolicyViolation, "connected elsewhere")
	})
	return c.writeDirect(ctx, protocol.ServerMessage{Type: protocol.MsgRegisterAck}) == nil
}

func (c *client) handle(cm protocol.ClientMessage) {
	switch cm.Type {
	case protocol.MsgRequestMatchState:
		lb := c.hub.Get(cm.LobbyID)
		if lb == nil {
			// Terminal matches have no live actor but still have state worth
			// serving; only a genuinely unknown id is an error.
			c.serveStored(cm.LobbyID)
			return
		}
		if c.subscribed != lb {
			c.unsubscribe()
			c.subscribed = lb
		}
		// Subscribe is idempotent and doubles as recovery: it re-registers the
		// session even if the lobby dropped it as a slow subscriber.
		lb.Inbox() <- lobby.Subscribe{SessionID: c.socketID, UserID: c.userID, Outbox: c.outbox}

	case protocol.MsgJoinQueue:
		lb := c.hub.Get(cm.LobbyID)
		if lb == nil {
			c.push(protocol.ServerMessage{Type: protocol.MsgMatchStateError, LobbyID: cm.LobbyID})
			return
		}
		if c.subscribed != lb {
			c.unsubscribe()
			c.subscribed = lb
			lb.Inbox() <- lobby.Subscribe{SessionID: c.socketID, UserID: c.userID, Outbox: c.outbox}
		}
		lb.Inbox() <- lobby.FromClient{
			SessionID: c.socketID,
			Cmd: engine.Command{
				Type:    engine.CmdJoin,
				ActorID: c.userID,
				Player:  engine.Player{ID: c.userID, DisplayName: c.username, Elo: defaultElo},
			},
		}

	case protocol.MsgDraftPick:
		lb := c.subscribed
		if lb == nil || lb.MatchID() != cm.LobbyID {
			lb = c.hub.Get(cm.LobbyID)
		}
		if lb == nil {
			c.push(protocol.ErrorMessage(cm.LobbyID, protocol.CodeInvalidState, "unknown match"))
			return
		}
		// Rejections are delivered per-session through the lobby, so the
		// session must be subscribed before the command goes in.
		if c.subscribed != lb {
			c.unsubscribe()
			c.subscribed = lb
			lb.Inbox() <- lobby.Subscribe{SessionID: c.socketID, UserID: c.userID, Outbox: c.outbox}
		}
		lb.Inbox() <- lobby.FromClient{
			SessionID: c.socketID,
			Cmd: engine.Command{
				Type:     engine.CmdPick,
				ActorID:  c.userID,
				TargetID: cm.PickedPlayerID,
			},
		}

	default:
		c.push(protocol.ErrorMessage("", protocol.CodeInvalidState, "unknown message type"))
	}
}

// defaultElo is the rating snapshot for players joining over the socket
// without a profile lookup; the HTTP join path carries the real rating.
const defaultElo = 1000

// serveStored answers a recovery request for a match with no live actor. A
// completed or cancelled match still resolves to its final snapshot so a
// client refreshing on the results screen can tell "finished" from "gone".
func (c *client) serveStored(matchID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		c.push(protocol.ServerMessage{Type: protocol.MsgMatchStateError, LobbyID: matchID})
		return
	}
	c.push(protocol.ServerMessage{
		Type:    protocol.MsgLobbyUpdate,
		LobbyID: matchID,
		Lobby:   protocol.NewLobbyView(m),
	})
}

func (c *client) unsubscribe() {
	if c.subscribed != nil {
		c.subscribed.Inbox() <- lobby.Unsubscribe{SessionID: c.socketID}
		c.subscribed = nil
	}
}

// push queues a targeted frame on the session outbox. Dropping on a full
// outbox matches the lobby's slow-client policy.
func (c *client) push(msg protocol.ServerMessage) {
	select {
	case c.outbox <- msg:
	default:
	}
}

// writeDirect is used only before the writer goroutine exists.
func (c *client) writeDirect(ctx context.Context, msg protocol.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, payload)
}
