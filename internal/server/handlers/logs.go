package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/ginx"
)

type errorLogsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
}

// ErrorLogs 返回最近的业务错误日志，最新在前
func (h *Handler) ErrorLogs(c *gin.Context) {
	var query errorLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}
	if query.Limit == 0 {
		query.Limit = 50
	}

	entries, err := h.errStore.Entries(c.Request.Context(), query.Limit)
	if err != nil {
		h.log.Errorf(c.Request.Context(), "read error logs failed, err: %v", err)
		ginx.InternalError(c, "Failed to read error logs")
		return
	}

	ginx.Success(c, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
