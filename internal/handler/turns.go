package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/streamchat/internal/middleware"
	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/service"
	"github.com/capitalize-ai/streamchat/pkg/logger"
)

// TurnHandler handles turn endpoints.
type TurnHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewTurnHandler creates a new turn handler.
func NewTurnHandler(svc *service.ConversationService, log *logger.Logger) *TurnHandler {
	return &TurnHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations/:id/turns
func (h *TurnHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	turns, err := h.service.Turns(ctx, tenantID, conversationID)
	if err != nil {
		writeStoreError(w, err, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListTurnsResponse{Turns: turns})
}

// Save handles POST /api/v1/conversations/:id/turns
// Saving an existing turn id updates it in place.
func (h *TurnHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	var req model.SaveTurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateSaveTurn(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := h.service.SaveTurn(ctx, tenantID, conversationID, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTurn) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Warn("failed to save turn", zap.String("conversation_id", conversationID), zap.Error(err))
		writeStoreError(w, err, "conversation not found")
		return
	}

	writeJSON(w, http.StatusCreated, turn)
}

// Delete handles DELETE /api/v1/conversations/:id/turns/:turnID
func (h *TurnHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID, turnID, ok := turnParams(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTurn(ctx, tenantID, conversationID, turnID); err != nil {
		writeStoreError(w, err, "turn not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Pin handles PUT /api/v1/conversations/:id/turns/:turnID/pin
func (h *TurnHandler) Pin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID, turnID, ok := turnParams(w, r)
	if !ok {
		return
	}

	var req model.PinTurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, err := h.service.PinTurn(ctx, tenantID, conversationID, turnID, req.Pinned)
	if err != nil {
		writeStoreError(w, err, "turn not found")
		return
	}

	writeJSON(w, http.StatusOK, turn)
}
