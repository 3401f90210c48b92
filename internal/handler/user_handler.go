package handler

import (
	"net/http"

	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/service"
	"wisdomlink-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理所有与用户相关的 API 请求。
type UserHandler struct {
	userService  *service.UserService
	queryService *service.QueryService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService *service.UserService, queryService *service.QueryService) *UserHandler {
	return &UserHandler{userService: userService, queryService: queryService}
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var in model.CreateUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		log.Warnf("Register: 无效的请求负载: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：用户名和密码不能为空",
		})
		return
	}

	info, err := h.userService.CreateUser(c.Request.Context(), &in)
	if err != nil {
		respondError(c, err)
		return
	}
	log.Infof("用户 '%s' 注册成功", info.Username)
	respondOK(c, info)
}

// Me 返回当前认证用户的信息。
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	info, err := h.userService.GetUserInfo(c.Request.Context(), user.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, info)
}

// GetUserInfo 按用户名返回用户信息。
func (h *UserHandler) GetUserInfo(c *gin.Context) {
	info, err := h.userService.GetUserInfo(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, info)
}

// UpdateMe 更新当前认证用户的资料。
func (h *UserHandler) UpdateMe(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var in model.UpdateUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		log.Warnf("UpdateMe: 无效的请求负载: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	info, err := h.userService.UpdateUserInfo(c.Request.Context(), user, &in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, info)
}

// DeleteMe 注销当前认证用户。
func (h *UserHandler) DeleteMe(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.userService.DeleteUser(c.Request.Context(), user.Username); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// SearchUsers 检索用户。
func (h *UserHandler) SearchUsers(c *gin.Context) {
	infos, err := h.queryService.SearchUsers(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, infos)
}
