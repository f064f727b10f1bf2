package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shiftmarket/fraud-engine/internal/domain/activity"
	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
	"github.com/shiftmarket/fraud-engine/internal/service/fraud"
)

// Handler exposes the fraud engine over HTTP.
type Handler struct {
	engine   fraud.Service
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(engine fraud.Service, logger *zap.Logger) *Handler {
	return &Handler{
		engine:   engine,
		validate: validator.New(),
		logger:   logger,
	}
}

type reportActivityRequest struct {
	EventID       uuid.UUID  `json:"event_id" validate:"required"`
	UserID        uuid.UUID  `json:"user_id" validate:"required"`
	Type          string     `json:"type" validate:"required"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
	DeviceHash    string     `json:"device_hash,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	Platform      string     `json:"platform,omitempty"`
	IPAddress     string     `json:"ip_address,omitempty" validate:"omitempty,ip"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Amount        *string    `json:"amount,omitempty"`
}

// ReportActivity handles POST /api/v1/activity.
func (h *Handler) ReportActivity(w http.ResponseWriter, r *http.Request) {
	var req reportActivityRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	ev := &activity.Event{
		ID:     req.EventID,
		UserID: req.UserID,
		Type:   req.Type,
		Context: activity.Context{
			DeviceHash:    req.DeviceHash,
			UserAgent:     req.UserAgent,
			Platform:      req.Platform,
			IPAddress:     req.IPAddress,
			TransactionID: req.TransactionID,
		},
	}
	if req.OccurredAt != nil {
		ev.OccurredAt = *req.OccurredAt
	}
	if req.Amount != nil {
		amt, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			writeError(w, h.logger, domainerrors.NewValidationError("INVALID_AMOUNT", "amount must be a decimal string"))
			return
		}
		ev.Context.Amount = &amt
	}

	verdict, err := h.engine.ReportActivity(r.Context(), ev)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

type upsertRuleRequest struct {
	Code        string  `json:"code" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	Category    string  `json:"category" validate:"required"`
	Field       string  `json:"field" validate:"required"`
	Operator    string  `json:"operator" validate:"required"`
	Value       float64 `json:"value"`
	Period      string  `json:"period"`
	Severity    int     `json:"severity" validate:"required,min=1,max=10"`
	Action      string  `json:"action" validate:"required"`
	Active      *bool   `json:"active,omitempty"`
}

// UpsertRule handles PUT /api/v1/admin/rules.
func (h *Handler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	var req upsertRuleRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	period, err := rule.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, h.logger, domainerrors.NewValidationError("INVALID_PERIOD", err.Error()))
		return
	}

	fr := rule.NewFraudRule(req.Code, req.Name, rule.Category(req.Category), rule.Condition{
		Field:    req.Field,
		Operator: rule.Operator(req.Operator),
		Value:    req.Value,
		Period:   period,
	}, req.Severity, rule.Action(req.Action))
	fr.Description = req.Description
	if req.Active != nil {
		fr.Active = *req.Active
	}
	if err := fr.Validate(); err != nil {
		writeError(w, h.logger, domainerrors.NewValidationError("INVALID_RULE", err.Error()))
		return
	}

	if err := h.engine.UpsertRule(r.Context(), fr, actorFrom(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

// ListRules handles GET /api/v1/admin/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	category := rule.Category(r.URL.Query().Get("category"))
	if category != "" && !category.Valid() {
		writeError(w, h.logger, domainerrors.NewValidationError("INVALID_CATEGORY", "unknown rule category"))
		return
	}
	rules, err := h.engine.ListRules(r.Context(), category)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// SetRuleActive handles POST /api/v1/admin/rules/{code}/activate and
// .../deactivate.
func (h *Handler) SetRuleActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		if err := h.engine.SetRuleActive(r.Context(), code, active, actorFrom(r.Context())); err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"code": code, "active": active})
	}
}

// UserSignals handles GET /api/v1/admin/users/{id}/signals.
func (h *Handler) UserSignals(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerrors.NewValidationError("INVALID_USER_ID", "user id must be a uuid"))
		return
	}
	signals, err := h.engine.UnresolvedSignals(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"signals": signals})
}

// SignalsBySeverity handles GET /api/v1/admin/signals.
func (h *Handler) SignalsBySeverity(w http.ResponseWriter, r *http.Request) {
	minSeverity := queryInt(r, "min_severity", 1)
	limit := queryInt(r, "limit", 0)
	signals, err := h.engine.SignalsBySeverity(r.Context(), minSeverity, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"signals": signals})
}

type resolveSignalRequest struct {
	Notes string `json:"notes"`
}

// ResolveSignal handles POST /api/v1/admin/signals/{id}/resolve.
func (h *Handler) ResolveSignal(w http.ResponseWriter, r *http.Request) {
	signalID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerrors.NewValidationError("INVALID_SIGNAL_ID", "signal id must be a uuid"))
		return
	}
	var req resolveSignalRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.engine.ResolveSignal(r.Context(), signalID, actorFrom(r.Context()), req.Notes); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": signalID})
}

// UserRisk handles GET /api/v1/admin/users/{id}/risk.
func (h *Handler) UserRisk(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerrors.NewValidationError("INVALID_USER_ID", "user id must be a uuid"))
		return
	}
	score, err := h.engine.GetRiskScore(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// RecalculateRisk handles POST /api/v1/admin/users/{id}/risk/recalculate.
func (h *Handler) RecalculateRisk(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerrors.NewValidationError("INVALID_USER_ID", "user id must be a uuid"))
		return
	}
	score, err := h.engine.RecalculateScore(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

type blockRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// BlockUser handles POST /api/v1/admin/users/{id}/block.
func (h *Handler) BlockUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerrors.NewValidationError("INVALID_USER_ID", "user id must be a uuid"))
		return
	}
	var req blockRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.engine.BlockUser(r.Context(), userID, actorFrom(r.Context()), req.Reason); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blocked": userID})
}

// UnblockUser handles POST /api/v1/admin/users/{id}/unblock.
func (h *Handler) UnblockUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, domainerrors.NewValidationError("INVALID_USER_ID", "user id must be a uuid"))
		return
	}
	if err := h.engine.UnblockUser(r.Context(), userID, actorFrom(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unblocked": userID})
}

// GetDevice handles GET /api/v1/admin/devices/{hash}.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	f, err := h.engine.GetDevice(r.Context(), r.PathValue("hash"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// BlockDevice handles POST /api/v1/admin/devices/{hash}/block.
func (h *Handler) BlockDevice(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.engine.BlockDevice(r.Context(), r.PathValue("hash"), actorFrom(r.Context()), req.Reason); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blocked": r.PathValue("hash")})
}

// UnblockDevice handles POST /api/v1/admin/devices/{hash}/unblock.
func (h *Handler) UnblockDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.UnblockDevice(r.Context(), r.PathValue("hash"), actorFrom(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unblocked": r.PathValue("hash")})
}

// TrustDevice handles POST /api/v1/admin/devices/{hash}/trust.
func (h *Handler) TrustDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.TrustDevice(r.Context(), r.PathValue("hash"), actorFrom(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trusted": r.PathValue("hash")})
}

// EvaluationErrors handles GET /api/v1/admin/evaluation-errors.
func (h *Handler) EvaluationErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := h.engine.EvaluationErrors(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"errors": errs})
}

// decode unmarshals and validates a JSON request body.
func (h *Handler) decode(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return domainerrors.NewValidationError("INVALID_BODY", "request body must be valid JSON").WithCause(err)
	}
	if err := h.validate.Struct(dest); err != nil {
		return domainerrors.NewValidationError("INVALID_REQUEST", err.Error()).WithCause(err)
	}
	return nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
