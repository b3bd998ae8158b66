package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/application"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/logger"
)

// AlertHandler 房源提醒 HTTP 处理器
type AlertHandler struct {
	app *application.AlertService
}

func NewAlertHandler(app *application.AlertService) *AlertHandler {
	return &AlertHandler{app: app}
}

// RegisterRoutes 注册路由
func (h *AlertHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/alerts")
	{
		api.POST("/subscriptions", h.CreateSubscription)
		api.GET("/subscriptions", h.ListSubscriptions)
		api.GET("/subscriptions/:id", h.GetSubscription)
		api.DELETE("/subscriptions/:id", h.Unsubscribe)
		api.PUT("/subscriptions/:id/push", h.RegisterPush)
		api.DELETE("/subscriptions/:id/push", h.RemovePush)
		api.PUT("/subscriptions/:id/email", h.SetEmail)
		api.POST("/subscriptions/:id/run", h.RunSubscription)
		api.GET("/subscriptions/:id/preview", h.Preview)
		api.POST("/run", h.RunAll)
		api.GET("/notifications", h.GetNotificationHistory)
		api.POST("/interactions", h.RecordInteraction)
	}
}

// CreateSubscriptionRequest 保存搜索请求
type CreateSubscriptionRequest struct {
	UserID       string                           `json:"user_id" binding:"required"`
	Email        string                           `json:"email"`
	Filter       domain.Filter                    `json:"filter"`
	EmailEnabled bool                             `json:"email_enabled"`
	Push         *application.RegisterPushCommand `json:"push"`
}

func (h *AlertHandler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.CreateSubscriptionCommand{
		UserID:       req.UserID,
		Email:        req.Email,
		Filter:       req.Filter,
		EmailEnabled: req.EmailEnabled,
	}
	if req.Push != nil {
		cred := req.Push.Credential()
		cmd.PushCredential = &cred
	}

	dto, err := h.app.CreateSubscription(c.Request.Context(), cmd)
	if err != nil {
		h.fail(c, "Failed to create subscription", err)
		return
	}
	c.JSON(http.StatusCreated, dto)
}

func (h *AlertHandler) GetSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	dto, err := h.app.GetSubscription(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get subscription", err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (h *AlertHandler) ListSubscriptions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	dtos, err := h.app.ListSubscriptions(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "Failed to list subscriptions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": dtos})
}

func (h *AlertHandler) Unsubscribe(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.app.Unsubscribe(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to unsubscribe", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AlertHandler) RegisterPush(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req application.RegisterPushCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.app.RegisterPush(c.Request.Context(), id, req); err != nil {
		h.fail(c, "Failed to register push credential", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AlertHandler) RemovePush(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.app.RemovePush(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to remove push credential", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setEmailRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *AlertHandler) SetEmail(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req setEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.app.SetEmailEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		h.fail(c, "Failed to update email preference", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RunSubscription 手动立即发送
func (h *AlertHandler) RunSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	report, err := h.app.RunNow(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to run subscription", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *AlertHandler) RunAll(c *gin.Context) {
	report, err := h.app.RunAll(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to run dispatch", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *AlertHandler) Preview(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	listings, err := h.app.Preview(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to preview subscription", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": listings})
}

// GetNotificationHistory 获取提醒历史
func (h *AlertHandler) GetNotificationHistory(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	events, total, err := h.app.GetNotificationHistory(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.fail(c, "Failed to get notification history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events, "total": total})
}

// InteractionRequest 客户端通知交互上报
type InteractionRequest struct {
	NotificationID string `json:"notificationId" binding:"required"`
	Type           string `json:"type" binding:"required"`
	Action         string `json:"action"`
	Timestamp      int64  `json:"timestamp"`
}

func (h *AlertHandler) RecordInteraction(c *gin.Context) {
	var req InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.app.RecordInteraction(c.Request.Context(), application.RecordInteractionCommand{
		NotificationID: req.NotificationID,
		Type:           req.Type,
		Action:         req.Action,
		Timestamp:      req.Timestamp,
		UserAgent:      c.Request.UserAgent(),
	})
	if err != nil {
		h.fail(c, "Failed to record interaction", err)
		return
	}
	c.Status(http.StatusAccepted)
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return 0, false
	}
	return id, true
}

// fail 按领域错误映射状态码
func (h *AlertHandler) fail(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSubscriptionInactive):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidFilter), errors.Is(err, domain.ErrInvalidPushCredential), errors.Is(err, application.ErrValidation):
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), msg, "error", err)
	} else {
		logger.Warn(c.Request.Context(), msg, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
