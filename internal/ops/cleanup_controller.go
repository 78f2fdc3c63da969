package ops

import (
	"docpipe/internal/cleanup"
	"docpipe/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// CleanupController starts source cleanups and reports their progress.
type CleanupController struct {
	initiator  *cleanup.Initiator
	aggregator *cleanup.Aggregator
}

// NewCleanupController creates the controller.
func NewCleanupController(initiator *cleanup.Initiator, aggregator *cleanup.Aggregator) *CleanupController {
	return &CleanupController{initiator: initiator, aggregator: aggregator}
}

// InitiateRequest identifies the requester for the audit trail.
type InitiateRequest struct {
	RequestedBy string `json:"requested_by"`
}

// InitiateResponse returns the correlation id that tracks the cascade.
type InitiateResponse struct {
	SourceName    string `json:"source_name"`
	CorrelationID string `json:"correlation_id"`
}

// Initiate deletes a source and broadcasts the deletion request to the
// downstream services. The returned correlation id is the handle for
// tracking cleanup progress.
func (h *CleanupController) Initiate(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		response.BadRequest(c, "source name is required")
		return
	}
	var req InitiateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request parameters")
			return
		}
	}
	if req.RequestedBy == "" {
		req.RequestedBy = c.GetHeader("X-Requested-By")
	}

	deletion, err := h.initiator.Initiate(c.Request.Context(), name, req.RequestedBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, InitiateResponse{SourceName: name, CorrelationID: deletion.CorrelationID})
}

// Status returns the cleanup aggregate for a correlation id.
func (h *CleanupController) Status(c *gin.Context) {
	correlationID := c.Param("correlation_id")
	if correlationID == "" {
		response.BadRequest(c, "correlation id is required")
		return
	}
	agg, err := h.aggregator.Status(c.Request.Context(), correlationID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, agg)
}
