package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"virtual-attendance/pkg/response"
)

// BodyLimit 请求体大小限制中间件，可挂在全局或单个路由上
// Content-Length 超限时直接返回 413；分块传输的请求体由 MaxBytesReader 截断
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			tooLarge(c)
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}

		c.Next()

		if c.IsAborted() || c.Writer.Written() {
			return
		}
		for _, err := range c.Errors {
			var mbe *http.MaxBytesError
			if errors.As(err.Err, &mbe) {
				tooLarge(c)
				return
			}
		}
	}
}

func tooLarge(c *gin.Context) {
	response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
	c.Abort()
}
