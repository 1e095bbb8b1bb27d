package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/ginx"
)

// QueueStatus 返回 webhook 队列的时点快照
func (h *Handler) QueueStatus(c *gin.Context) {
	ginx.Success(c, h.queue.State())
}
