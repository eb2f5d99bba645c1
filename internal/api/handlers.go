package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"ordergate/internal/domain"
	"ordergate/internal/lifecycle"
	"ordergate/internal/ratelimit"
)

// reasoner matches the rejection errors of the admission layers.
type reasoner interface {
	Reason() string
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an engine error onto an HTTP status: 404 for unknown
// orders, 409 for lifecycle conflicts and risk rejections, 429 with a
// Retry-After header for rate limits, 400 otherwise.
func writeError(w http.ResponseWriter, err error) {
	var (
		nfErr  *lifecycle.NotFoundError
		invErr *lifecycle.InvalidTransitionError
		rlErr  *ratelimit.Error
		re     reasoner
	)

	status := http.StatusBadRequest
	reason := ""
	switch {
	case errors.As(err, &nfErr):
		status = http.StatusNotFound
		reason = nfErr.Reason()
	case errors.As(err, &invErr):
		status = http.StatusConflict
		reason = invErr.Reason()
	case errors.As(err, &rlErr):
		status = http.StatusTooManyRequests
		reason = rlErr.Reason()
		seconds := int(math.Ceil(rlErr.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	case errors.As(err, &re):
		// Risk-layer rejections.
		status = http.StatusConflict
		reason = re.Reason()
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Reason: reason})
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

type submitOrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	StrategyID string          `json:"strategy_id"`
	Exchange   string          `json:"exchange"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	order := &domain.Order{
		Symbol:     req.Symbol,
		Side:       domain.Side(req.Side),
		Price:      req.Price,
		Quantity:   req.Quantity,
		StrategyID: req.StrategyID,
		Exchange:   req.Exchange,
	}

	submitted, err := s.engine.SubmitOrder(r.Context(), order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitted)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid status filter: " + string(status)})
		return
	}

	orders := s.engine.ListOrders(r.Context(), status)
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type executeOrderRequest struct {
	FillPrice decimal.Decimal `json:"fill_price"`
}

func (s *Server) handleExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req executeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	executed, err := s.engine.ExecuteOrder(r.Context(), r.PathValue("id"), req.FillPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executed)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "user requested"
	}

	canceled, err := s.engine.CancelOrder(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, canceled)
}

// ---------------------------------------------------------------------------
// Positions and risk
// ---------------------------------------------------------------------------

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.engine.Positions(r.Context())
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	pos, ok := s.engine.Position(r.Context(), symbol)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no position for " + symbol})
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleRiskSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.RiskSummary(r.Context()))
}

type updateMarkRequest struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func (s *Server) handleUpdateMark(w http.ResponseWriter, r *http.Request) {
	var req updateMarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Symbol == "" || !req.Price.IsPositive() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "mark update requires a symbol and a positive price"})
		return
	}

	s.engine.UpdateMark(req.Symbol, req.Price)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type recordPnLRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// handleRecordPnL accepts externally settled P&L (funding, fees, manual
// adjustments). Losses recorded here count toward the daily-loss breaker.
func (s *Server) handleRecordPnL(w http.ResponseWriter, r *http.Request) {
	var req recordPnLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Amount.IsZero() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "pnl adjustment requires a non-zero amount"})
		return
	}

	s.engine.RecordPnL(req.Amount)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
