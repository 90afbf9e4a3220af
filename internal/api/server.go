package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"marketsim/internal/config"
	"marketsim/internal/market"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultTimeframe = market.Timeframe1M

type Server struct {
	cfg    config.Config
	log    *slog.Logger
	market *market.Engine
	mux    *chi.Mux
}

func New(cfg config.Config, logger *slog.Logger, engine *market.Engine) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		market: engine,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stocks", s.handleStocksList)
		r.Get("/stocks/{ref}", s.handleStockDetail)
		r.Get("/stocks/{ref}/history", s.handleStockHistory)
		r.Get("/compare", s.handleCompare)

		r.Group(func(r chi.Router) {
			r.Use(s.operatorMiddleware)
			r.Post("/stocks", s.handleListStock)
			r.Post("/trades", s.handleTrade)
			r.Post("/market/tick", s.handleTick)
			r.Post("/market/reset", s.handleReset)
		})
	})
}

// operatorMiddleware guards state-changing routes when an operator token is
// configured. Without one the API trusts its network, like any internal
// service behind the funds ledger.
func (s *Server) operatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.OperatorToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.OperatorToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStocksList(w http.ResponseWriter, r *http.Request) {
	out, err := s.market.Stocks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sector := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("sector")))
	if sector != "" {
		filtered := out[:0]
		for _, st := range out {
			if st.Sector == sector {
				filtered = append(filtered, st)
			}
		}
		out = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": out})
}

func (s *Server) handleStockDetail(w http.ResponseWriter, r *http.Request) {
	out, err := s.market.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStockHistory(w http.ResponseWriter, r *http.Request) {
	tf, err := timeframeParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.market.History(r.Context(), chi.URLParam(r, "ref"), tf)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	tf, err := timeframeParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	refs := strings.Split(r.URL.Query().Get("stocks"), ",")
	out, err := s.market.Compare(r.Context(), refs, tf)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListStock(w http.ResponseWriter, r *http.Request) {
	var in market.NewStock
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.market.ListStock(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("stock listed", "stock_id", out.ID, "symbol", out.Symbol, "price", out.CurrentPrice)
	writeJSON(w, http.StatusCreated, out)
}

// handleTrade applies the price side of a trade. The caller has already
// reserved funds or holdings for it.
func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Stock    string `json:"stock"`
		Side     string `json:"side"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := market.ParseSide(in.Side)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	result, err := s.market.Trade(r.Context(), in.Stock, side, in.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	report, err := s.market.RunDriftTick(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	report, err := s.market.ResetDaily(r.Context())
	if err != nil {
		s.log.Error("manual daily reset failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func timeframeParam(r *http.Request) (market.Timeframe, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("timeframe"))
	if raw == "" {
		return defaultTimeframe, nil
	}
	return market.ParseTimeframe(raw)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrInvalidQuantity), errors.Is(err, market.ErrInvalidSide),
		errors.Is(err, market.ErrInvalidSymbol), errors.Is(err, market.ErrInvalidTimeframe),
		errors.Is(err, market.ErrInvalidStock), errors.Is(err, market.ErrTooManySeries):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrStockNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrInsufficientLiquidity), errors.Is(err, market.ErrDuplicateSymbol):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, market.ErrStoreUnavailable):
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

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
