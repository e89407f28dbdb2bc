package order

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/models"
)

type CreateOrderRequest struct {
	FundID   uint  `json:"fund_id" binding:"required"`
	Quantity int64 `json:"quantity" binding:"required,gt=0"`
}

type CompleteOrderRequest struct {
	Reference string `json:"reference" binding:"required"`
}

// DecisionRequest omits the reference on the first approve/reject call
type DecisionRequest struct {
	Reference string `json:"reference"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.FromBinding(err))
		return
	}

	actor, _ := auth.ActorFrom(c)
	placement, err := h.service.CreateOrder(c.Request.Context(), actor, CreateOrderInput{
		FundID:   req.FundID,
		Quantity: req.Quantity,
	})
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, placement)
}

func (h *Handler) ListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	filter := ListFilter{
		PaymentStatus:  models.PaymentStatus(c.Query("payment_status")),
		ApprovalStatus: models.ApprovalStatus(c.Query("approval_status")),
		Limit:          limit,
		Offset:         offset,
	}
	if raw := c.Query("fund_id"); raw != "" {
		fundID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			apierror.Respond(c, apierror.NewValidation("fund_id", "must be a positive integer"))
			return
		}
		filter.FundID = uint(fundID)
	}

	actor, _ := auth.ActorFrom(c)
	orders, err := h.service.ListOrders(c.Request.Context(), actor, filter)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}

func (h *Handler) GetOrder(c *gin.Context) {
	actor, _ := auth.ActorFrom(c)
	order, err := h.service.GetOrder(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) PaymentInstruction(c *gin.Context) {
	actor, _ := auth.ActorFrom(c)
	instruction, err := h.service.PaymentInstruction(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, instruction)
}

func (h *Handler) CompleteOrder(c *gin.Context) {
	var req CompleteOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.FromBinding(err))
		return
	}

	actor, _ := auth.ActorFrom(c)
	order, err := h.service.CompleteOrder(c.Request.Context(), actor, c.Param("id"), req.Reference)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	actor, _ := auth.ActorFrom(c)
	order, err := h.service.CancelOrder(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) Approve(c *gin.Context) {
	h.decide(c, h.service.Approve)
}

func (h *Handler) Reject(c *gin.Context) {
	h.decide(c, h.service.Reject)
}

type decideFunc func(ctx context.Context, actor auth.Actor, orderID, reference string) (*Decision, error)

func (h *Handler) decide(c *gin.Context, fn decideFunc) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		apierror.Respond(c, apierror.FromBinding(err))
		return
	}

	actor, _ := auth.ActorFrom(c)
	decision, err := fn(c.Request.Context(), actor, c.Param("id"), req.Reference)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup, am *auth.AuthMiddleware) {
	orders := router.Group("/orders", am.RequireAuth())
	{
		orders.POST("", h.CreateOrder)
		orders.GET("", h.ListOrders)
		orders.GET("/:id", h.GetOrder)
		orders.GET("/:id/payment-instruction", h.PaymentInstruction)
		orders.POST("/:id/complete", h.CompleteOrder)
		orders.POST("/:id/cancel", h.CancelOrder)

		manage := orders.Group("", am.RequireRole(models.RoleManager))
		manage.POST("/:id/approve", h.Approve)
		manage.POST("/:id/reject", h.Reject)
	}
}
