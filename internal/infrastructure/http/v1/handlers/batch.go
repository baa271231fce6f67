package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// BatchHandler handles HTTP requests for the batch ledger.
type BatchHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(base *BaseHandler, service *ledger.Service) *BatchHandler {
	return &BatchHandler{BaseHandler: base, service: service}
}

// Add handles POST /batches (goods receipt)
func (h *BatchHandler) Add(c *gin.Context) {
	var req dto.AddBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	in, err := req.ToInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	b, err := h.service.AddBatch(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, b.ID.String())
}

// Get handles GET /batches/:id
func (h *BatchHandler) Get(c *gin.Context) {
	batchID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	b, err := h.service.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromBatch(b))
}

// Consume handles POST /batches/:id/consume
func (h *BatchHandler) Consume(c *gin.Context) {
	batchID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.ConsumeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ref, err := req.Reference()
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.service.Consume(c.Request.Context(), batchID,
		types.NewQuantityFromFloat64(req.Quantity), ref)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, result)
}

// Delete handles DELETE /batches/:id (soft delete with stock compensation)
func (h *BatchHandler) Delete(c *gin.Context) {
	batchID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	ref := ledger.Reference{Type: "batch_deletion"}
	if err := h.service.SoftDeleteBatch(c.Request.Context(), batchID, ref); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}

// ListByProduct handles GET /products/:id/batches?order=fifo|lifo
func (h *BatchHandler) ListByProduct(c *gin.Context) {
	productID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	order, err := ledger.ParseOrder(c.Query("order"))
	if err != nil {
		h.Error(c, err)
		return
	}

	batches, err := h.service.ActiveBatches(c.Request.Context(), productID, order)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.BatchResponse, len(batches))
	for i := range batches {
		items[i] = dto.FromBatch(&batches[i])
	}

	h.OK(c, dto.BatchListResponse{Items: items, Order: order})
}

// Transactions handles GET /products/:id/transactions
func (h *BatchHandler) Transactions(c *gin.Context) {
	productID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	filter := ledger.TransactionFilter{
		Limit:  h.ParseIntQuery(c, "limit", 100),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}

	if batchStr := c.Query("batchId"); batchStr != "" {
		batchID, err := id.Parse(batchStr)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid batchId format"))
			return
		}
		filter.BatchID = &batchID
	}
	if typeStr := c.Query("type"); typeStr != "" {
		txType := ledger.TransactionType(typeStr)
		filter.Type = &txType
	}
	if fromStr := c.Query("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid from date, expected RFC3339"))
			return
		}
		filter.FromDate = &from
	}
	if toStr := c.Query("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid to date, expected RFC3339"))
			return
		}
		filter.ToDate = &to
	}

	txns, err := h.service.Transactions(c.Request.Context(), productID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.TransactionListResponse{Items: txns})
}
