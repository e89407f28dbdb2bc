package fund

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/shopspring/decimal"
)

// FundView is a fund with its remaining capacity
type FundView struct {
	*models.Fund
	Available int64 `json:"available"`
}

func newView(f *models.Fund) FundView {
	return FundView{Fund: f, Available: f.Available()}
}

type CreateFundRequest struct {
	Name                  string          `json:"name" binding:"required"`
	TokenSymbol           string          `json:"token_symbol"`
	TokenAddress          string          `json:"token_address"`
	MaxIssuance           int64           `json:"max_issuance" binding:"required,gt=0"`
	QuotaPrice            decimal.Decimal `json:"quota_price"`
	SettlementDestination string          `json:"settlement_destination"`
	Status                string          `json:"status"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=PENDING APPROVED REJECTED CLOSED"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) CreateFund(c *gin.Context) {
	var req CreateFundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.FromBinding(err))
		return
	}

	actor, _ := auth.ActorFrom(c)
	fund, err := h.service.CreateFund(c.Request.Context(), actor, CreateFundInput{
		Name:                  req.Name,
		TokenSymbol:           req.TokenSymbol,
		TokenAddress:          req.TokenAddress,
		MaxIssuance:           req.MaxIssuance,
		QuotaPrice:            req.QuotaPrice,
		SettlementDestination: req.SettlementDestination,
		Status:                models.FundStatus(req.Status),
	})
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, newView(fund))
}

func (h *Handler) GetFund(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	fund, err := h.service.GetFund(c.Request.Context(), id)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, newView(fund))
}

func (h *Handler) ListFunds(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	funds, err := h.service.ListFunds(c.Request.Context(), ListFilter{
		Status: models.FundStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	views := make([]FundView, 0, len(funds))
	for _, f := range funds {
		views = append(views, newView(f))
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.FromBinding(err))
		return
	}

	actor, _ := auth.ActorFrom(c)
	fund, err := h.service.UpdateStatus(c.Request.Context(), actor, id, models.FundStatus(req.Status))
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, newView(fund))
}

func (h *Handler) Recount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	actor, _ := auth.ActorFrom(c)
	committed, err := h.service.Recount(c.Request.Context(), actor, id)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"fund_id": id, "committed_quantity": committed})
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup, am *auth.AuthMiddleware) {
	funds := router.Group("/funds")
	{
		funds.GET("", h.ListFunds)
		funds.GET("/:id", h.GetFund)

		manage := funds.Group("", am.RequireAuth(), am.RequireRole(models.RoleManager))
		manage.POST("", h.CreateFund)
		manage.PATCH("/:id/status", h.UpdateStatus)
		manage.POST("/:id/recount", h.Recount)
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		apierror.Respond(c, apierror.NewValidation("id", "must be a positive integer"))
		return 0, false
	}
	return uint(id), true
}
