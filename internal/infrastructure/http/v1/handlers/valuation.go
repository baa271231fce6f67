package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/valuation"
)

// ValuationHandler handles HTTP requests for inventory valuation.
type ValuationHandler struct {
	*BaseHandler
	service *valuation.Service
}

// NewValuationHandler creates a new valuation handler.
func NewValuationHandler(base *BaseHandler, service *valuation.Service) *ValuationHandler {
	return &ValuationHandler{BaseHandler: base, service: service}
}

// Report handles GET /valuation?method=fifo|lifo|average&asOf=...&productId=...
func (h *ValuationHandler) Report(c *gin.Context) {
	method, err := valuation.ParseMethod(c.Query("method"))
	if err != nil {
		h.Error(c, err)
		return
	}

	q := valuation.Query{Method: method}

	if asOfStr := c.Query("asOf"); asOfStr != "" {
		asOf, err := time.Parse(time.RFC3339, asOfStr)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid asOf date, expected RFC3339"))
			return
		}
		q.AsOf = asOf
	}

	if pStr := c.Query("productId"); pStr != "" {
		productID, err := id.Parse(pStr)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid productId format"))
			return
		}
		q.ProductID = &productID
	}

	report, err := h.service.Valuate(c.Request.Context(), q)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, report)
}
