// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"

	"github.com/gin-gonic/gin"
)

// respondOK 以统一的响应信封返回成功结果。
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    data,
	})
}

// respondError 把业务错误按类别映射为 HTTP 状态码。
// 索引类错误不应该走到这里，一致性层已把它们吞掉并记录。
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindPermission:
		status = http.StatusForbidden
	}

	message := "服务器内部错误"
	var e *errs.Error
	if errors.As(err, &e) && status != http.StatusInternalServerError {
		message = e.Message()
	}
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
	})
}

// currentUser 取出认证中间件放入上下文的用户对象。
func currentUser(c *gin.Context) (*model.User, bool) {
	v, exists := c.Get("user")
	if !exists {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "无法获取用户信息",
		})
		return nil, false
	}
	user, ok := v.(*model.User)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "用户数据类型错误",
		})
		return nil, false
	}
	return user, true
}
