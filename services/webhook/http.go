package webhook

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
	g := r.Group("/webhooks")
	g.POST("/subscriptions", h.createSubscription)
	g.GET("/subscriptions", h.listSubscriptions)
	g.GET("/subscriptions/:id", h.getSubscription)
	g.PATCH("/subscriptions/:id", h.updateSubscription)
	g.DELETE("/subscriptions/:id", h.deleteSubscription)
	g.POST("/subscriptions/:id/pause", h.pauseSubscription)
	g.POST("/subscriptions/:id/resume", h.resumeSubscription)
	g.GET("/deliveries", h.listDeliveries)
	g.GET("/deliveries/:id", h.getDelivery)
	g.POST("/deliveries/:id/attempt", h.attemptDelivery)
	g.POST("/deliveries/redrive", h.redrive)
}

func (h *Handler) createSubscription(c *gin.Context) {
	var params CreateSubscriptionParams
	if err := c.ShouldBindJSON(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	sub, err := h.svc.CreateSubscription(c.Request.Context(), middleware.TenantID(c), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) listSubscriptions(c *gin.Context) {
	subs, err := h.svc.ListSubscriptions(c.Request.Context(), middleware.TenantID(c), c.Query("projectId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (h *Handler) getSubscription(c *gin.Context) {
	sub, err := h.svc.GetSubscription(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (h *Handler) updateSubscription(c *gin.Context) {
	var params UpdateSubscriptionParams
	if err := c.ShouldBindJSON(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	sub, err := h.svc.UpdateSubscription(c.Request.Context(), middleware.TenantID(c), c.Param("id"), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(c *gin.Context) {
	if err := h.svc.DeleteSubscription(c.Request.Context(), middleware.TenantID(c), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) pauseSubscription(c *gin.Context) {
	sub, err := h.svc.PauseSubscription(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (h *Handler) resumeSubscription(c *gin.Context) {
	sub, err := h.svc.ResumeSubscription(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (h *Handler) listDeliveries(c *gin.Context) {
	var params ListDeliveriesParams
	if err := c.ShouldBindQuery(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query parameters", err))
		return
	}

	deliveries, pageInfo, err := h.svc.ListDeliveries(c.Request.Context(), middleware.TenantID(c), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries, "page_info": pageInfo})
}

func (h *Handler) getDelivery(c *gin.Context) {
	delivery, err := h.svc.GetDelivery(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, delivery)
}

func (h *Handler) attemptDelivery(c *gin.Context) {
	delivery, err := h.svc.AttemptNow(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, delivery)
}

func (h *Handler) redrive(c *gin.Context) {
	var params RedriveParams
	if err := c.ShouldBindJSON(&params); err != nil && c.Request.ContentLength > 0 {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	result, err := h.svc.Redrive(c.Request.Context(), middleware.TenantID(c), params)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}
