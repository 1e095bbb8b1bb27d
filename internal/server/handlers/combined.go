package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/ginx"
)

// CombinedOrders 拉取两侧最近订单并返回匹配视图
func (h *Handler) CombinedOrders(c *gin.Context) {
	data, err := h.fetcher.Fetch(c.Request.Context())
	if err != nil {
		h.log.Errorf(c.Request.Context(), "fetch combined orders failed, err: %v", err)
		if h.errStore != nil {
			h.errStore.Error("Combined orders fetch failed", "combined-orders", map[string]interface{}{
				"error": err.Error(),
			})
		}
		ginx.InternalError(c, err.Error())
		return
	}

	ginx.Success(c, data)
}
