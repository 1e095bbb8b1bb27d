package routers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/server/handlers"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/server/middlewares"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/ginx"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/logger"
)

// SetupRoutes 配置所有路由，使用 Route Group 分类
func SetupRoutes(h *handlers.Handler, publicDir string, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.CORS())
	r.Use(middlewares.AccessLog(log))
	r.Use(middlewares.ErrorHandler(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "rozetka-keycrm-link-sync",
			"message": "Service is running",
		})
	})

	r.POST("/webhooks/keycrm", h.Webhook)

	api := r.Group("/api")
	{
		api.GET("/combined-orders", h.CombinedOrders)
		api.POST("/sync-rozetka-link", h.SyncRozetkaLink)
		api.GET("/queue/status", h.QueueStatus)
		api.GET("/logs/errors", h.ErrorLogs)
	}

	registerStatic(r, publicDir)

	return r
}

// registerStatic 托管面板静态资源，未知路径回落到 index.html
func registerStatic(r *gin.Engine, publicDir string) {
	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api") || strings.HasPrefix(path, "/webhooks") {
			ginx.NotFound(c, "route not found")
			return
		}

		file := filepath.Join(publicDir, filepath.Clean("/"+path))
		if stat, err := os.Stat(file); err == nil && !stat.IsDir() {
			c.File(file)
			return
		}
		c.File(filepath.Join(publicDir, "index.html"))
	})
}
