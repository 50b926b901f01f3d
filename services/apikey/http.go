package apikey

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
	r.POST("/apikeys", h.issue)
}

func (h *Handler) issue(c *gin.Context) {
	var params IssueParams
	if err := c.ShouldBindJSON(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	result, err := h.svc.Issue(c.Request.Context(), middleware.TenantID(c), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, result)
}
