package outbox

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrEventNotFailed = apierror.New(apierror.NotFound, "OUTBOX_EVENT_NOT_FAILED", "outbox: no failed event with that id")

// Handler exposes the outbox to operators for manual reconciliation
type Handler struct {
	repo       OutboxRepository
	dispatcher *Dispatcher
}

func NewHandler(repo OutboxRepository, dispatcher *Dispatcher) *Handler {
	return &Handler{repo: repo, dispatcher: dispatcher}
}

func (h *Handler) ListEvents(c *gin.Context) {
	status := models.OutboxStatus(c.DefaultQuery("status", string(models.OutboxFailed)))
	switch status {
	case models.OutboxPending, models.OutboxDone, models.OutboxFailed:
	default:
		apierror.Respond(c, apierror.NewValidation("status", "must be one of PENDING DONE FAILED"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	list, err := h.repo.List(c.Request.Context(), status, limit)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) Requeue(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		apierror.Respond(c, apierror.NewValidation("id", "must be a positive integer"))
		return
	}

	ctx := c.Request.Context()
	if err := h.repo.Requeue(ctx, uint(id), time.Now().UTC()); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apierror.Respond(c, ErrEventNotFailed)
			return
		}
		apierror.Respond(c, err)
		return
	}

	actor, _ := auth.ActorFrom(c)
	logrus.WithFields(logrus.Fields{"event_id": id, "actor": actor.ID}).Info("Outbox event requeued")

	if err := h.dispatcher.Dispatch(ctx, uint(id)); err != nil {
		logrus.WithError(err).WithField("event_id", id).Warn("Requeued event delivery failed")
	}

	event, err := h.repo.GetByID(ctx, uint(id))
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup, am *auth.AuthMiddleware) {
	outbox := router.Group("/outbox", am.RequireAuth(), am.RequireRole(models.RoleAdmin))
	{
		outbox.GET("", h.ListEvents)
		outbox.POST("/:id/requeue", h.Requeue)
	}
}
