package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fivestack-gg/match-coordinator/internal/engine"
	"github.com/fivestack-gg/match-coordinator/internal/hub"
	"github.com/fivestack-gg/match-coordinator/internal/lobby"
	"github.com/fivestack-gg/match-coordinator/internal/protocol"
	"github.com/fivestack-gg/match-coordinator/internal/store"
)

// commandTimeout bounds how long an HTTP request waits for the owning lobby
// actor to commit.
const commandTimeout = 10 * time.Second

type API struct {
	hub   *hub.Hub
	store store.Store
	log   *zap.SugaredLogger
}

func New(h *hub.Hub, st store.Store, log *zap.Logger) *API {
	return &API{hub: h, store: st, log: log.Sugar()}
}

type createMatchRequest struct {
	HostID     string `json:"hostId"`
	HostName   string `json:"hostName"`
	HostElo    int    `json:"hostElo"`
	MatchType  string `json:"matchType"`
	MaxPlayers int    `json:"maxPlayers"`
}

func (a *API) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.HostID == "" || req.MaxPlayers < 2 {
		http.Error(w, "hostId and maxPlayers required", http.StatusBadRequest)
		return
	}
	mt := engine.MatchType(req.MatchType)
	switch mt {
	case engine.TypeCasual, engine.TypeCompetitive, engine.TypeLeague, engine.TypeClanLobby, engine.TypeClanWar:
	default:
		http.Error(w, "unknown matchType", http.StatusBadRequest)
		return
	}

	m := engine.NewMatch(uuid.NewString(), req.HostID, mt, req.MaxPlayers, engine.Player{
		ID:          req.HostID,
		DisplayName: req.HostName,
		Elo:         req.HostElo,
	})
	if err := a.store.CreateMatch(r.Context(), m); err != nil {
		a.log.Errorw("create match failed", "err", err)
		http.Error(w, "failed to create match", http.StatusInternalServerError)
		return
	}

	reply := make(chan *lobby.Lobby, 1)
	a.hub.Inbox() <- hub.CreateLobby{Match: m, Reply: reply}
	<-reply

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(struct {
		ID string `json:"id"`
	}{ID: m.ID})
}

func (a *API) GetMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if lb := a.hub.Get(id); lb != nil {
		reply := make(chan lobby.View, 1)
		lb.Inbox() <- lobby.GetView{Reply: reply}
		view := <-reply
		writeJSON(w, http.StatusOK, protocol.NewLobbyView(view.Match))
		return
	}
	// Terminal matches have no live actor; serve them from the store.
	m, err := a.store.GetMatch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.log.Errorw("match lookup failed", "matchId", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, protocol.NewLobbyView(m))
}

type rosterRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Elo         int    `json:"elo"`
	TargetID    string `json:"targetId"`
	Team        string `json:"team"`
}

func (a *API) Join(w http.ResponseWriter, r *http.Request) {
	var req rosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a.dispatch(w, r, engine.Command{
		Type:    engine.CmdJoin,
		ActorID: req.UserID,
		Player:  engine.Player{ID: req.UserID, DisplayName: req.DisplayName, Elo: req.Elo},
	})
}

func (a *API) Leave(w http.ResponseWriter, r *http.Request) {
	var req rosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a.dispatch(w, r, engine.Command{Type: engine.CmdLeave, ActorID: req.UserID})
}

func (a *API) SwitchTeam(w http.ResponseWriter, r *http.Request) {
	var req rosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a.dispatch(w, r, engine.Command{
		Type:    engine.CmdSwitchTeam,
		ActorID: req.UserID,
		Team:    engine.Team(req.Team),
	})
}

func (a *API) Kick(w http.ResponseWriter, r *http.Request) {
	var req rosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.TargetID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a.dispatch(w, r, engine.Command{Type: engine.CmdKick, ActorID: req.UserID, TargetID: req.TargetID})
}

func (a *API) FillBots(w http.ResponseWriter, r *http.Request) {
	var req rosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a.dispatch(w, r, engine.Command{Type: engine.CmdFillBots, ActorID: req.UserID})
}

func (a *API) Start(w http.ResponseWriter, r *http.Request) {
	var req rosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a.dispatch(w, r, engine.Command{Type: engine.CmdStartMatch, ActorID: req.UserID})
}

type statusRequest struct {
	ActorID string `json:"actorId"`
	Status  string `json:"status"`
}

func (a *API) PatchStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActorID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	// Cancellation is the only externally drivable status change; everything
	// else happens through lifecycle commands.
	if engine.Status(req.Status) != engine.StatusCancelled {
		http.Error(w, "only cancelled is settable", http.StatusBadRequest)
		return
	}
	a.dispatch(w, r, engine.Command{Type: engine.CmdCancel, ActorID: req.ActorID})
}

type resultRequest struct {
	SubmitterID   string `json:"submitterId"`
	WinnerTeam    string `json:"winnerTeam"`
	ScreenshotURL string `json:"screenshotUrl"`
}

func (a *API) SubmitResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubmitterID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a.dispatch(w, r, engine.Command{
		Type:       engine.CmdSubmitResult,
		ActorID:    req.SubmitterID,
		Team:       engine.Team(req.WinnerTeam),
		Screenshot: req.ScreenshotURL,
	})
}

// dispatch routes a mutation through the owning lobby actor so HTTP callers
// share the exact persist-then-broadcast path with websocket actions.
func (a *API) dispatch(w http.ResponseWriter, r *http.Request, cmd engine.Command) {
	id := chi.URLParam(r, "id")
	lb := a.hub.Get(id)
	if lb == nil {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}

	reply := make(chan error, 1)
	lb.Inbox() <- lobby.FromClient{Cmd: cmd, Reply: reply}

	select {
	case err := <-reply:
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case <-time.After(commandTimeout):
		http.Error(w, "timed out waiting for match owner", http.StatusGatewayTimeout)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidTarget), errors.Is(err, engine.ErrNotInMatch):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrWrongTurn),
		errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrMatchFull),
		errors.Is(err, engine.ErrAlreadyJoined):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
