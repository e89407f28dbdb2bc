package pool

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/shopspring/decimal"
)

type CreatePoolRequest struct {
	FundID uint            `json:"fund_id" binding:"required"`
	APY    decimal.Decimal `json:"apy"`
}

// TransferRequest is used for deposits and withdrawals. Without a reference the
// response is the instruction to sign; with one the ledger is updated.
type TransferRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
	Reference   string          `json:"reference"`
}

type YieldRequest struct {
	CurrentBalance decimal.Decimal  `json:"current_balance"`
	APY            *decimal.Decimal `json:"apy"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) CreatePool(c *gin.Context) {
	var req CreatePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.FromBinding(err))
		return
	}

	actor, _ := auth.ActorFrom(c)
	pool, err := h.service.CreatePool(c.Request.Context(), actor, req.FundID, req.APY)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, pool)
}

func (h *Handler) GetPool(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	pool, err := h.service.GetPool(c.Request.Context(), id)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, pool)
}

func (h *Handler) ListPools(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	status := models.PoolStatus(c.Query("status"))
	switch status {
	case "", models.PoolStatusActive, models.PoolStatusInactive:
	default:
		apierror.Respond(c, apierror.NewValidation("status", "must be ACTIVE or INACTIVE"))
		return
	}

	pools, err := h.service.ListPools(c.Request.Context(), ListFilter{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, pools)
}

func (h *Handler) Transactions(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	actor, _ := auth.ActorFrom(c)
	entries, err := h.service.Transactions(c.Request.Context(), actor, id, limit, offset)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

func (h *Handler) Deposit(c *gin.Context) {
	id, req, ok := bindTransfer(c)
	if !ok {
		return
	}

	actor, _ := auth.ActorFrom(c)
	ctx := c.Request.Context()
	if req.Reference == "" {
		instruction, err := h.service.BuildDeposit(ctx, actor, id, req.Amount)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"instruction": instruction})
		return
	}

	pool, err := h.service.Deposit(ctx, actor, id, req.Amount, req.Reference)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, pool)
}

func (h *Handler) Withdraw(c *gin.Context) {
	id, req, ok := bindTransfer(c)
	if !ok {
		return
	}

	actor, _ := auth.ActorFrom(c)
	ctx := c.Request.Context()
	if req.Reference == "" {
		instruction, err := h.service.BuildWithdrawal(ctx, actor, id, req.Amount, req.Destination)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"instruction": instruction})
		return
	}

	pool, err := h.service.Withdraw(ctx, actor, id, req.Amount, req.Reference)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, pool)
}

func (h *Handler) MarkYield(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req YieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.FromBinding(err))
		return
	}

	actor, _ := auth.ActorFrom(c)
	pool, err := h.service.MarkYield(c.Request.Context(), actor, id, req.CurrentBalance, req.APY)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, pool)
}

func (h *Handler) Deactivate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	actor, _ := auth.ActorFrom(c)
	pool, err := h.service.Deactivate(c.Request.Context(), actor, id)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, pool)
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup, am *auth.AuthMiddleware) {
	pools := router.Group("/pools")
	{
		pools.GET("", h.ListPools)
		pools.GET("/:id", h.GetPool)

		manage := pools.Group("", am.RequireAuth(), am.RequireRole(models.RoleManager))
		manage.POST("", h.CreatePool)
		manage.GET("/:id/transactions", h.Transactions)
		manage.POST("/:id/deposit", h.Deposit)
		manage.POST("/:id/withdraw", h.Withdraw)
		manage.POST("/:id/yield", h.MarkYield)
		manage.POST("/:id/deactivate", h.Deactivate)
	}
}

func bindTransfer(c *gin.Context) (uint, TransferRequest, bool) {
	var req TransferRequest
	id, ok := parseID(c)
	if !ok {
		return 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.FromBinding(err))
		return 0, req, false
	}
	return id, req, true
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		apierror.Respond(c, apierror.NewValidation("id", "must be a positive integer"))
		return 0, false
	}
	return uint(id), true
}
