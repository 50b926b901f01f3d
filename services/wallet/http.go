package wallet

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"gamecore-backend/pkg/errutil"
	"gamecore-backend/pkg/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/players/:id/wallet")
	g.POST("/credit", h.credit)
	g.POST("/debit", h.debit)
	g.GET("", h.balances)
	g.GET("/transactions", h.listTransactions)
}

type moveFunc func(ctx context.Context, tenantID, playerID string, params MoveParams) (*Transaction, error)

func (h *Handler) move(c *gin.Context, fn moveFunc) {
	var params MoveParams
	if err := c.ShouldBindJSON(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	txn, err := fn(c.Request.Context(), middleware.TenantID(c), c.Param("id"), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, txn)
}

func (h *Handler) credit(c *gin.Context) {
	h.move(c, h.svc.Credit)
}

func (h *Handler) debit(c *gin.Context) {
	h.move(c, h.svc.Debit)
}

func (h *Handler) balances(c *gin.Context) {
	balances, err := h.svc.Balances(c.Request.Context(), middleware.TenantID(c), c.Query("projectId"), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func (h *Handler) listTransactions(c *gin.Context) {
	var params ListTransactionsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query parameters", err))
		return
	}

	txns, pageInfo, err := h.svc.ListTransactions(c.Request.Context(), middleware.TenantID(c), c.Param("id"), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns, "page_info": pageInfo})
}
