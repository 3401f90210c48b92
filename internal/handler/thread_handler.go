package handler

import (
	"net/http"
	"strconv"

	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/service"
	"wisdomlink-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 随机帖子数量的默认值与上限。
const (
	defaultRandomCount = 5
	maxRandomCount     = 50
)

// ThreadHandler 负责处理所有与帖子相关的 API 请求。
type ThreadHandler struct {
	threadService *service.ThreadService
	queryService  *service.QueryService
}

// NewThreadHandler 创建一个新的 ThreadHandler 实例。
func NewThreadHandler(threadService *service.ThreadService, queryService *service.QueryService) *ThreadHandler {
	return &ThreadHandler{threadService: threadService, queryService: queryService}
}

// SaveThread 处理发帖请求，作者固定为当前认证用户。
func (h *ThreadHandler) SaveThread(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var in model.SaveThreadInput
	if err := c.ShouldBindJSON(&in); err != nil {
		log.Warnf("SaveThread: 无效的请求负载: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}
	in.Username = user.Username

	dto, err := h.threadService.SaveThread(c.Request.Context(), &in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dto)
}

// GetThread 按 ID 读取帖子。
func (h *ThreadHandler) GetThread(c *gin.Context) {
	dto, err := h.queryService.GetThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dto)
}

// RandomThreads 随机抽取若干条帖子，数量参数做默认与上限钳制。
func (h *ThreadHandler) RandomThreads(c *gin.Context) {
	n := defaultRandomCount
	if raw := c.Query("count"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	if n > maxRandomCount {
		n = maxRandomCount
	}

	dtos, err := h.queryService.RandomThreads(c.Request.Context(), n)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dtos)
}

// SearchThreads 全文检索帖子。
func (h *ThreadHandler) SearchThreads(c *gin.Context) {
	dtos, err := h.queryService.SearchThreads(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dtos)
}

// ThreadsByCommunity 查询某个社区下的帖子。
func (h *ThreadHandler) ThreadsByCommunity(c *gin.Context) {
	dtos, err := h.queryService.ThreadsByCommunity(c.Request.Context(), c.Param("community"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dtos)
}

// ThreadsByUsername 查询某个用户发布的帖子。
func (h *ThreadHandler) ThreadsByUsername(c *gin.Context) {
	dtos, err := h.queryService.ThreadsByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dtos)
}

// UpdateThread 处理帖子更新请求，只有作者本人可以修改。
func (h *ThreadHandler) UpdateThread(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var in model.UpdateThreadInput
	if err := c.ShouldBindJSON(&in); err != nil {
		log.Warnf("UpdateThread: 无效的请求负载: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	dto, err := h.threadService.UpdateThread(c.Request.Context(), c.Param("id"), user, &in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dto)
}

// DeleteThread 处理帖子删除请求，只有作者本人可以删除。
func (h *ThreadHandler) DeleteThread(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.threadService.DeleteThread(c.Request.Context(), c.Param("id"), user); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}
