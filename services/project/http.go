package project

import (
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
	g := r.Group("/projects")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

func (h *Handler) create(c *gin.Context) {
	var params CreateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	project, err := h.svc.Create(c.Request.Context(), middleware.TenantID(c), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

func (h *Handler) list(c *gin.Context) {
	projects, err := h.svc.List(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (h *Handler) get(c *gin.Context) {
	project, err := h.svc.Get(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, project)
}
