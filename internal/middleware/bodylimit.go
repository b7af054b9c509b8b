package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultBodyLimit 管理接口默认请求体上限
	DefaultBodyLimit = 1 * 1024 * 1024 // 1MB
	// MessageBodyLimit 处置模拟接口携带原始邮件
	MessageBodyLimit = 25 * 1024 * 1024 // 25MB
)

// BodySizeLimit 限制请求体大小的中间件
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"code": http.StatusRequestEntityTooLarge,
				"msg":  fmt.Sprintf("请求体超过 %d 字节上限", maxBytes),
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}

// DynamicBodySizeLimit 根据路由模板设置请求体大小限制
func DynamicBodySizeLimit(limits map[string]int64, defaultLimit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := limits[c.FullPath()]
		if !ok {
			limit = defaultLimit
		}
		BodySizeLimit(limit)(c)
	}
}
