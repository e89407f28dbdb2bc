package investor

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/auth"
)

type RegisterWalletRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Timestamp int64  `json:"timestamp" binding:"required"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) GetProfile(c *gin.Context) {
	actor, _ := auth.ActorFrom(c)
	inv, err := h.service.Profile(c.Request.Context(), actor)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) RegisterWallet(c *gin.Context) {
	var req RegisterWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.FromBinding(err))
		return
	}

	actor, _ := auth.ActorFrom(c)
	inv, err := h.service.RegisterWallet(c.Request.Context(), actor, RegisterWalletInput{
		Address:   req.Address,
		Signature: req.Signature,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup, am *auth.AuthMiddleware) {
	me := router.Group("/investors/me", am.RequireAuth())
	{
		me.GET("", h.GetProfile)
		me.PUT("/wallet", h.RegisterWallet)
	}
}
