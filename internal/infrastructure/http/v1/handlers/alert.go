package handlers

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/alerts"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// AlertHandler handles HTTP requests for stock alerts.
type AlertHandler struct {
	*BaseHandler
	service *alerts.Service
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(base *BaseHandler, service *alerts.Service) *AlertHandler {
	return &AlertHandler{BaseHandler: base, service: service}
}

// List handles GET /alerts
func (h *AlertHandler) List(c *gin.Context) {
	filter := alerts.ListFilter{
		Limit:  h.ParseIntQuery(c, "limit", 100),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}

	if pStr := c.Query("productId"); pStr != "" {
		productID, err := id.Parse(pStr)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid productId format"))
			return
		}
		filter.ProductID = &productID
	}
	if typeStr := c.Query("type"); typeStr != "" {
		alertType := alerts.AlertType(typeStr)
		filter.Type = &alertType
	}
	if statusStr := c.Query("status"); statusStr != "" {
		status := alerts.Status(statusStr)
		filter.Status = &status
	}
	if prioStr := c.Query("priority"); prioStr != "" {
		priority := alerts.Priority(prioStr)
		filter.Priority = &priority
	}

	items, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.AlertListResponse{Items: items})
}

// Get handles GET /alerts/:id
func (h *AlertHandler) Get(c *gin.Context) {
	alertID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	a, err := h.service.Get(c.Request.Context(), alertID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, a)
}

// Sweep handles POST /alerts/sweep
// Runs alert detection across all active products.
func (h *AlertHandler) Sweep(c *gin.Context) {
	changed, err := h.service.Sweep(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.AlertListResponse{Items: changed})
}

// Acknowledge handles POST /alerts/:id/acknowledge
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	alertID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.AlertActionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	a, err := h.service.Acknowledge(c.Request.Context(), alertID, h.GetUserID(c), req.Notes)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, a)
}

// Resolve handles POST /alerts/:id/resolve
func (h *AlertHandler) Resolve(c *gin.Context) {
	alertID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.AlertActionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	a, err := h.service.Resolve(c.Request.Context(), alertID, h.GetUserID(c), req.Notes)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, a)
}
