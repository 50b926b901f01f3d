package inventory

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
	g := r.Group("/players/:id/items")
	g.POST("/grant", h.grant)
	g.POST("/consume", h.consume)
	g.GET("", h.list)
}

type moveFunc func(ctx context.Context, tenantID, playerID string, params MoveParams) (*MoveResult, error)

func (h *Handler) move(c *gin.Context, fn moveFunc) {
	var params MoveParams
	if err := c.ShouldBindJSON(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	result, err := fn(c.Request.Context(), middleware.TenantID(c), c.Param("id"), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) grant(c *gin.Context) {
	h.move(c, h.svc.GrantItem)
}

func (h *Handler) consume(c *gin.Context) {
	h.move(c, h.svc.ConsumeItem)
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.svc.ListItems(c.Request.Context(), middleware.TenantID(c), c.Query("projectId"), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}
