package handlers

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/queue"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/ginx"
)

// webhook 请求体大小上限
const maxWebhookBody = 1 << 20

// eventHeader KeyCRM 在请求头携带的事件类型
const eventHeader = "X-KeyCRM-Event"

// tokenHeaders KeyCRM 侧可能使用的鉴权头，依次尝试
var tokenHeaders = []string{
	"X-KeyCRM-Webhook-Token",
	"X-Webhook-Token",
	"X-KeyCRM-Token",
}

// Webhook 接收 KeyCRM webhook 并入队异步处理
func (h *Handler) Webhook(c *gin.Context) {
	if secret := h.cfg.Webhook.Secret; secret != "" {
		if extractWebhookToken(c) != secret {
			h.log.Warnf(c.Request.Context(), "webhook rejected: invalid token, remote: %s", c.ClientIP())
			h.errStore.Warning("Rejected webhook: invalid token", "webhookEndpoint", map[string]interface{}{
				"ip":        c.ClientIP(),
				"eventType": c.GetHeader(eventHeader),
			})
			ginx.Unauthorized(c, "Invalid webhook token")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		ginx.BadRequest(c, "Failed to read webhook body")
		return
	}

	var payload matching.OrderRecord
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		ginx.BadRequest(c, "Webhook payload must be a JSON object")
		return
	}
	delete(payload, "token")

	// 事件类型优先取请求头，payload 的 event 字段兜底
	eventType := c.GetHeader(eventHeader)
	if eventType == "" {
		eventType = matching.Stringify(payload["event"])
	}

	meta := queue.JobMeta{
		EventType:  eventType,
		ReceivedAt: time.Now(),
	}

	jobID, err := h.queue.Enqueue(payload, meta)
	if err != nil {
		h.log.Errorf(c.Request.Context(), "enqueue webhook job failed, err: %v", err)
		ginx.InternalError(c, "Failed to enqueue webhook job")
		return
	}

	ginx.Accepted(c, gin.H{
		"accepted":  true,
		"jobId":     jobID,
		"eventType": meta.EventType,
	})
}

// extractWebhookToken 从鉴权头或 query 参数提取 token
func extractWebhookToken(c *gin.Context) string {
	for _, header := range tokenHeaders {
		if v := c.GetHeader(header); v != "" {
			return v
		}
	}
	return c.Query("token")
}
