package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"tycoon/internal/game"
	"tycoon/internal/market"
	"tycoon/internal/multiplier"
	"tycoon/internal/num"
	"tycoon/internal/save"
	"tycoon/internal/tick"
)

const streamSubscriber = "stream"

type Server struct {
	log  *slog.Logger
	game *game.Service
	hub  *Hub
	mux  *chi.Mux
}

func New(logger *slog.Logger, gameSvc *game.Service) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:  logger,
		game: gameSvc,
		hub:  NewHub(logger),
		mux:  chi.NewRouter(),
	}
	if err := gameSvc.Subscribe(streamSubscriber, s.broadcastTick); err != nil {
		return nil, fmt.Errorf("subscribe stream: %w", err)
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Close disconnects stream clients and detaches from the tick loop.
func (s *Server) Close() {
	s.game.Unsubscribe(streamSubscriber)
	s.hub.Close()
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		// The stream hijacks the connection and outlives any request timeout.
		r.Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/clock", s.handleClock)
			r.Post("/clock/start", s.handleClockStart)
			r.Post("/clock/stop", s.handleClockStop)
			r.Post("/clock/pause", s.handleClockPause)
			r.Post("/clock/resume", s.handleClockResume)
			r.Post("/clock/advance", s.handleClockAdvance)
			r.Post("/clock/catch-up", s.handleClockCatchUp)

			r.Get("/assets", s.handleAssetsList)
			r.Get("/assets/{id}", s.handleAssetDetail)
			r.Post("/orders", s.handleOrder)
			r.Get("/portfolio", s.handlePortfolio)

			r.Get("/multipliers", s.handleMultipliers)
			r.Get("/multipliers/{category}", s.handleMultiplierDetail)
			r.Post("/contributions", s.handleAddContribution)
			r.Delete("/contributions/{id}", s.handleRemoveContribution)

			r.Get("/prestige", s.handlePrestige)
			r.Post("/prestige/reset", s.handlePrestigeReset)
			r.Post("/reset", s.handleHardReset)

			r.Get("/saves", s.handleSavesList)
			r.Post("/saves/{slot}", s.handleSave)
			r.Post("/saves/{slot}/load", s.handleLoad)
			r.Delete("/saves/{slot}", s.handleDeleteSave)
		})
	})
}

func (s *Server) handleClock(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.game.ClockStatus())
}

func (s *Server) handleClockStart(w http.ResponseWriter, r *http.Request) {
	if err := s.game.Start(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.game.ClockStatus())
}

func (s *Server) handleClockStop(w http.ResponseWriter, _ *http.Request) {
	s.game.Stop()
	writeJSON(w, http.StatusOK, s.game.ClockStatus())
}

func (s *Server) handleClockPause(w http.ResponseWriter, _ *http.Request) {
	s.game.Pause()
	writeJSON(w, http.StatusOK, s.game.ClockStatus())
}

func (s *Server) handleClockResume(w http.ResponseWriter, _ *http.Request) {
	s.game.Resume()
	writeJSON(w, http.StatusOK, s.game.ClockStatus())
}

func (s *Server) handleClockAdvance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Ticks int64 `json:"ticks"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := s.game.Advance(r.Context(), in.Ticks)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleClockCatchUp(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Elapsed string `json:"elapsed"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	elapsed, err := time.ParseDuration(strings.TrimSpace(in.Elapsed))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("elapsed: %v", err))
		return
	}
	n, err := s.game.CatchUp(r.Context(), elapsed)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticks": n, "clock": s.game.ClockStatus()})
}

func (s *Server) handleAssetsList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assets": s.game.Assets()})
}

func (s *Server) handleAssetDetail(w http.ResponseWriter, r *http.Request) {
	asset, err := s.game.Asset(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var in game.OrderInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.IdempotencyKey = idempotencyKey(r)
	result, err := s.game.PlaceOrder(in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.game.Portfolio())
}

func (s *Server) handleMultipliers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"multipliers": s.game.Multipliers()})
}

func (s *Server) handleMultiplierDetail(w http.ResponseWriter, r *http.Request) {
	view, err := s.game.Breakdown(chi.URLParam(r, "category"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAddContribution(w http.ResponseWriter, r *http.Request) {
	var in game.ContributionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.game.AddContribution(in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         id,
		"multiplier": s.game.Multiplier(strings.TrimSpace(in.Category)),
	})
}

func (s *Server) handleRemoveContribution(w http.ResponseWriter, r *http.Request) {
	if err := s.game.RemoveContribution(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePrestige(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.game.PrestigeState())
}

func (s *Server) handlePrestigeReset(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Points num.Decimal `json:"points"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.game.PrestigeReset(r.Context(), in.Points)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHardReset(w http.ResponseWriter, r *http.Request) {
	if err := s.game.HardReset(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.game.ClockStatus())
}

func (s *Server) handleSavesList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.game.Saves(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saves": recs})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	result, err := s.game.Save(r.Context(), chi.URLParam(r, "slot"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	snap, err := s.game.Load(r.Context(), chi.URLParam(r, "slot"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tick":     snap.Tick,
		"saved_at": snap.SavedAt,
		"clock":    s.game.ClockStatus(),
	})
}

func (s *Server) handleDeleteSave(w http.ResponseWriter, r *http.Request) {
	if err := s.game.DeleteSave(r.Context(), chi.URLParam(r, "slot")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	now := s.game.CurrentTick()
	initial, err := json.Marshal(s.game.Summary(tick.Event{Tick: now}))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.hub.Serve(w, r, initial)
}

// broadcastTick runs inside every tick; it only encodes when someone listens.
func (s *Server) broadcastTick(_ context.Context, ev tick.Event) error {
	if s.hub.Len() == 0 {
		return nil
	}
	msg, err := json.Marshal(s.game.Summary(ev))
	if err != nil {
		return err
	}
	s.hub.Broadcast(msg)
	return nil
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrDuplicateIdempotency):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, market.ErrInsufficientFunds), errors.Is(err, market.ErrInsufficientQuantity):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, market.ErrAssetNotFound),
		errors.Is(err, multiplier.ErrUnknownCategory),
		errors.Is(err, game.ErrContributionNotFound),
		errors.Is(err, save.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrInvalidAssetID),
		errors.Is(err, game.ErrInvalidSide),
		errors.Is(err, game.ErrInvalidPrestigePoints),
		errors.Is(err, game.ErrInvalidOfflineDuration),
		errors.Is(err, game.ErrReservedContribution),
		errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, multiplier.ErrInvalidKind),
		errors.Is(err, multiplier.ErrInvalidRule),
		errors.Is(err, multiplier.ErrInvalidCategory),
		errors.Is(err, multiplier.ErrInvalidContribution),
		errors.Is(err, save.ErrInvalidSlot),
		errors.Is(err, tick.ErrInvalidTickRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrUnsupportedSnapshot):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, game.ErrNoStore):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}
