package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fivestack-gg/match-coordinator/internal/hub"
	"github.com/fivestack-gg/match-coordinator/internal/session"
	"github.com/fivestack-gg/match-coordinator/internal/store"
	"github.com/fivestack-gg/match-coordinator/internal/ws"
)

func SetupRoutes(h *hub.Hub, st store.Store, reg *session.Registry, log *zap.Logger) http.Handler {
	api := New(h, st, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, st, reg, log))

	r.Route("/api/matches", func(r chi.Router) {
		r.Post("/", api.CreateMatch)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", api.GetMatch)
			r.Post("/join", api.Join)
			r.Post("/leave", api.Leave)
			r.Post("/switch-team", api.SwitchTeam)
			r.Post("/kick", api.Kick)
			r.Post("/fill-bots", api.FillBots)
			r.Post("/start", api.Start)
			r.Patch("/status", api.PatchStatus)
			r.Post("/result", api.SubmitResult)
		})
	})
	return r
}
