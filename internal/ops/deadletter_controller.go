package ops

import (
	"strconv"
	"time"

	"docpipe/internal/common/mq"
	"docpipe/internal/deadletter"
	appErr "docpipe/pkg/errors"
	"docpipe/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// DeadLetterController exposes the dead-letter sink's query API and the
// operator-driven replay endpoint. There is no automatic reprocessing: a
// replay is always a deliberate request.
type DeadLetterController struct {
	repo  deadletter.Repository
	queue mq.Producer
}

// NewDeadLetterController creates the controller.
func NewDeadLetterController(repo deadletter.Repository, queue mq.Producer) *DeadLetterController {
	return &DeadLetterController{repo: repo, queue: queue}
}

// List returns dead letters for a service, newest first.
func (h *DeadLetterController) List(c *gin.Context) {
	service := c.Query("service")
	if service == "" {
		response.BadRequest(c, "service query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, total, err := h.repo.ListByService(c.Request.Context(), service, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithPagination(c, records, total, limit, offset)
}

// Get returns one dead letter by id.
func (h *DeadLetterController) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid dead letter id")
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rec)
}

// GetByKey returns the abandonment history for an idempotency key.
func (h *DeadLetterController) GetByKey(c *gin.Context) {
	key := c.Param("idempotency_key")
	if key == "" {
		response.BadRequest(c, "idempotency key is required")
		return
	}
	records, err := h.repo.ListByIdempotencyKey(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, records)
}

// ReplayRequest optionally overrides the topic the original event is
// republished to.
type ReplayRequest struct {
	Topic string `json:"topic"`
}

// ReplayResponse reports where the event was republished.
type ReplayResponse struct {
	ID         int64     `json:"id"`
	Topic      string    `json:"topic"`
	ReplayedAt time.Time `json:"replayed_at"`
}

// Replay republishes the original event of a dead letter and records the
// replay time.
func (h *DeadLetterController) Replay(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid dead letter id")
		return
	}
	var req ReplayRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid replay request")
			return
		}
	}

	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	topic := req.Topic
	if topic == "" {
		topic = rec.Topic
	}
	if topic == "" {
		response.Error(c, appErr.New(appErr.TopicNotConfigured).
			WithMessage("record carries no topic; supply one in the request body"))
		return
	}

	// Republished without the retry attempt header: the replay starts a
	// fresh attempt sequence.
	if err := h.queue.Publish(c.Request.Context(), topic, mq.NewMessage(rec.OriginalEvent)); err != nil {
		response.Error(c, appErr.Wrapf(err, appErr.DeadLetterReplayFail, "republish original event failed"))
		return
	}
	replayedAt := time.Now().UTC()
	if err := h.repo.MarkReplayed(c.Request.Context(), id, replayedAt); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ReplayResponse{ID: id, Topic: topic, ReplayedAt: replayedAt})
}
