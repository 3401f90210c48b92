package handler

import (
	"net/http"
	"time"

	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/repository"
	"wisdomlink-go/internal/service"
	"wisdomlink-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责处理所有与对话相关的 API 请求。
type ChatHandler struct {
	chatService  *service.ChatService
	queryService *service.QueryService
	userService  *service.UserService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService *service.ChatService, queryService *service.QueryService, userService *service.UserService) *ChatHandler {
	return &ChatHandler{
		chatService:  chatService,
		queryService: queryService,
		userService:  userService,
	}
}

// SaveChat 处理对话的新建或整体更新请求。
func (h *ChatHandler) SaveChat(c *gin.Context) {
	var in model.SaveChatInput
	if err := c.ShouldBindJSON(&in); err != nil {
		log.Warnf("SaveChat: 无效的请求负载: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	dto, err := h.chatService.SaveChat(c.Request.Context(), &in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dto)
}

// GetChat 按 ID 读取对话。
func (h *ChatHandler) GetChat(c *gin.Context) {
	dto, err := h.queryService.GetChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dto)
}

// GetChatDetails 按 ID 读取对话详情（展开参与者信息）。
func (h *ChatHandler) GetChatDetails(c *gin.Context) {
	detail, err := h.queryService.GetChatWithDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, detail)
}

// ListChats 查询当前用户参与的对话列表，支持状态/角色/社区过滤。
func (h *ChatHandler) ListChats(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	filter := repository.ChatFilter{
		Username:  user.Username,
		Role:      c.Query("role"),
		Status:    c.Query("status"),
		Community: c.Query("community"),
	}
	summaries, err := h.queryService.ListChats(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, summaries)
}

// ChatsByCommunity 查询某个社区下的对话。
func (h *ChatHandler) ChatsByCommunity(c *gin.Context) {
	dtos, err := h.queryService.ChatsByCommunity(c.Request.Context(), c.Param("community"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dtos)
}

// AddMessageRequest 定义了追加消息 API 的请求体结构。
type AddMessageRequest struct {
	Content   string     `json:"content" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
}

// AddMessage 处理向对话追加消息的请求，发送者是当前认证用户。
func (h *ChatHandler) AddMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("AddMessage: 无效的请求负载: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：消息内容不能为空",
		})
		return
	}

	dto, err := h.chatService.AddMessage(c.Request.Context(), c.Param("id"), user, req.Content, req.Timestamp)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dto)
}

// UpdateStatusRequest 定义了推进对话状态 API 的请求体结构。
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus 处理对话状态推进请求。
func (h *ChatHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("UpdateStatus: 无效的请求负载: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：状态不能为空",
		})
		return
	}

	dto, err := h.chatService.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dto)
}

// DeleteChat 处理对话删除请求。
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.chatService.DeleteChat(c.Request.Context(), c.Param("id"), user); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// Evaluate 处理对一次回答的评价请求。
func (h *ChatHandler) Evaluate(c *gin.Context) {
	var in model.EvaluateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		log.Warnf("Evaluate: 无效的请求负载: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	result, err := h.userService.EvaluateUser(c.Request.Context(), &in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Stats 返回当前用户的对话统计。
func (h *ChatHandler) Stats(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	stats, err := h.queryService.ChatStats(c.Request.Context(), user.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, stats)
}
