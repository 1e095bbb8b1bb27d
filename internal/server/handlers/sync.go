package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/ginx"
)

// SyncRozetkaLink 手动触发一次最近订单的链接同步。
// 业务上未能匹配仍返回 200，updated=false 并带 reason；只有执行异常返回 500
func (h *Handler) SyncRozetkaLink(c *gin.Context) {
	result, err := h.engine.SyncLatest(c.Request.Context())
	if err != nil {
		h.log.Errorf(c.Request.Context(), "manual link sync failed, err: %v", err)
		if h.errStore != nil {
			h.errStore.Error("Manual link sync failed", "sync-rozetka-link", map[string]interface{}{
				"error": err.Error(),
			})
		}
		ginx.InternalError(c, err.Error())
		return
	}

	if !result.Updated && h.errStore != nil {
		h.errStore.Warning("Manual link sync completed without update", "sync-rozetka-link", map[string]interface{}{
			"reason": result.Reason,
		})
	}

	ginx.Success(c, result)
}
