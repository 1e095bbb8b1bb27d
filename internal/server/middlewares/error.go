package middlewares

import (
	"github.com/gin-gonic/gin"

	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/ginx"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/logger"
)

// ErrorHandler 统一错误处理中间件
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			log.Errorf(c.Request.Context(), "request failed, path: %s, err: %v", c.Request.URL.Path, err)
			if !c.Writer.Written() {
				ginx.InternalError(c, err.Error())
			}
		}
	}
}
