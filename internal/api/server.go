// Package api exposes the launchpad over HTTP: quoting, the signed
// transaction handoff, settlement status, trade history, and referral
// summaries.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kairosdex/launchpad/internal/curve"
	"github.com/kairosdex/launchpad/internal/metrics"
	"github.com/kairosdex/launchpad/internal/settlement"
	"github.com/kairosdex/launchpad/internal/state"
	"github.com/kairosdex/launchpad/internal/storage"
	"github.com/kairosdex/launchpad/internal/storage/models"
)

// Settlements is the slice of the coordinator the API consumes.
type Settlements interface {
	QuoteBuy(ctx context.Context, mint string, trader solana.PublicKey, amount uint64) (settlement.View, error)
	QuoteSell(ctx context.Context, mint string, trader solana.PublicKey, tokens uint64) (settlement.View, error)
	Submit(ctx context.Context, id string, rawTx []byte) (settlement.View, error)
	View(id string) (settlement.View, error)
}

type Server struct {
	settlements Settlements
	store       storage.Storage
	metrics     *metrics.Metrics
	logger      *zap.Logger
	router      chi.Router
}

func NewServer(settlements Settlements, store storage.Storage, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		settlements: settlements,
		store:       store,
		metrics:     m,
		logger:      logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/instruments/{mint}/quotes", s.handleQuote)
		r.Get("/instruments/{mint}/trades", s.handleTrades)
		r.Post("/settlements/{id}/submit", s.handleSubmit)
		r.Get("/settlements/{id}", s.handleSettlement)
		r.Get("/referrals/{wallet}", s.handleReferral)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type quoteRequest struct {
	Direction string `json:"direction"`
	Trader    string `json:"trader"`
	// Amount is smallest currency units for buys and token base units
	// for sells.
	Amount uint64 `json:"amount"`
	// Referrer links the trader on their first quote. The link is
	// write-once; later quotes with a different referrer are ignored.
	Referrer string `json:"referrer,omitempty"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	mint := chi.URLParam(r, "mint")

	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	trader, err := solana.PublicKeyFromBase58(req.Trader)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid trader address")
		return
	}
	if req.Referrer != "" {
		s.linkReferrer(r.Context(), req.Trader, req.Referrer)
	}

	var view settlement.View
	switch req.Direction {
	case "buy":
		view, err = s.settlements.QuoteBuy(r.Context(), mint, trader, req.Amount)
	case "sell":
		view, err = s.settlements.QuoteSell(r.Context(), mint, trader, req.Amount)
	default:
		s.writeError(w, http.StatusBadRequest, "direction must be buy or sell")
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// linkReferrer records the trader's referrer on their first quote.
// The link never blocks a quote: a malformed referrer, a self
// referral, or an already-set link is simply dropped.
func (s *Server) linkReferrer(ctx context.Context, trader, referrer string) {
	if referrer == trader {
		return
	}
	if _, err := solana.PublicKeyFromBase58(referrer); err != nil {
		s.logger.Debug("ignoring malformed referrer",
			zap.String("trader", trader))
		return
	}
	err := s.store.SetReferrer(ctx, trader, referrer)
	if err != nil && !errors.Is(err, storage.ErrReferrerAlreadySet) {
		s.logger.Warn("referral link failed",
			zap.String("trader", trader), zap.Error(err))
	}
}

type submitRequest struct {
	Transaction string `json:"transaction"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Transaction)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "transaction must be base64")
		return
	}

	view, err := s.settlements.Submit(r.Context(), id, raw)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	view, err := s.settlements.View(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	mint := chi.URLParam(r, "mint")
	limit := queryInt(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	offset := queryInt(r, "offset", 0)

	trades, err := s.store.ListTrades(r.Context(), mint, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (s *Server) handleReferral(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetReferral(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// writeDomainError maps sentinel errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrUnknownInstrument),
		errors.Is(err, settlement.ErrUnknownSettlement),
		errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, curve.ErrBelowMinimumAmount),
		errors.Is(err, curve.ErrInvalidSellAmount),
		errors.Is(err, settlement.ErrTransactionMismatch),
		errors.Is(err, settlement.ErrUserSignatureRejected):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, curve.ErrInsufficientInventory),
		errors.Is(err, state.ErrInstrumentGraduated),
		errors.Is(err, state.ErrVersionConflict),
		errors.Is(err, settlement.ErrInvalidState):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, settlement.ErrTransactionExpired):
		s.writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, settlement.ErrCustodySignatureRejected):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
