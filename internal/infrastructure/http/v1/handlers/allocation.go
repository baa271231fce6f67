package handlers

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/domain/allocation"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// AllocationHandler handles HTTP requests for the allocation engine.
type AllocationHandler struct {
	*BaseHandler
	engine *allocation.Engine
}

// NewAllocationHandler creates a new allocation handler.
func NewAllocationHandler(base *BaseHandler, engine *allocation.Engine) *AllocationHandler {
	return &AllocationHandler{BaseHandler: base, engine: engine}
}

// Preview handles POST /allocations/preview
// Builds a plan without consuming anything.
func (h *AllocationHandler) Preview(c *gin.Context) {
	var req dto.AllocationRequest
	if !h.BindJSON(c, &req) {
		return
	}

	in, err := req.ToIssueInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	plan, err := h.engine.Allocate(c.Request.Context(), in.ProductID, in.Quantity, in.Order)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, plan)
}

// Issue handles POST /issues
// Plans and atomically applies an allocation.
func (h *AllocationHandler) Issue(c *gin.Context) {
	var req dto.AllocationRequest
	if !h.BindJSON(c, &req) {
		return
	}

	in, err := req.ToIssueInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.engine.Issue(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, result)
}
