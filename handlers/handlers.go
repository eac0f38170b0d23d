package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"stake-group/bank"
	"stake-group/logger"
	"stake-group/metrics"
	"stake-group/models"
	"stake-group/stake"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Handler contains the HTTP handlers for the group's query and execute surfaces
type Handler struct {
	Engine  *stake.Engine
	Metrics *metrics.Metrics
	Limiter *RateLimiter
}

// NewHandler creates and returns a new Handler instance. Metrics and
// limiter are optional.
func NewHandler(e *stake.Engine, m *metrics.Metrics, limiter *RateLimiter) *Handler {
	return &Handler{Engine: e, Metrics: m, Limiter: limiter}
}

// Query handles POST requests carrying a tagged query
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var q models.QueryMsg
	if err := decodeStrict(w, r, &q); err != nil {
		logger.Logger.Debug("Failed to decode query", zap.Error(err))
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := h.Engine.Query(r.Context(), q)
	if err != nil {
		logger.Logger.Error("Query failed", zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Execute handles POST requests carrying a state-changing message
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req models.ExecuteRequest
	if err := decodeStrict(w, r, &req); err != nil {
		logger.Logger.Debug("Failed to decode execute request", zap.Error(err))
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := h.Engine.Execute(r.Context(), req)
	if err != nil {
		logger.Logger.Info("Execute rejected", zap.String("sender", req.Sender), zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}

	logger.Logger.Info("Executed",
		zap.String("sender", req.Sender),
		zap.Uint64("height", resp.Height),
		zap.Int("diffs", len(resp.Diffs)))
	writeJSON(w, http.StatusOK, resp)
}

// GetBalance handles GET requests for an address's bank balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	balance, err := h.Engine.Balance(addr)
	if err != nil {
		logger.Logger.Error("Failed to read balance", zap.String("address", addr), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"balance": balance,
	})
}

// GetStatus handles GET requests for the current block
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Block())
}

// decodeStrict decodes a single JSON value, rejecting unknown fields
func decodeStrict(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("invalid request payload: trailing data")
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidMsg),
		errors.Is(err, stake.ErrZeroAmount),
		errors.Is(err, stake.ErrMissingDenom),
		errors.Is(err, stake.ErrExtraDenoms),
		errors.Is(err, stake.ErrInvalidConfig),
		errors.Is(err, stake.ErrOverflow):
		return http.StatusBadRequest
	case errors.Is(err, stake.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, stake.ErrInsufficientBalance),
		errors.Is(err, stake.ErrNothingToClaim),
		errors.Is(err, stake.ErrHookAlreadyRegistered),
		errors.Is(err, stake.ErrHookNotRegistered),
		errors.Is(err, bank.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, stake.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}
