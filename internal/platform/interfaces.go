package platform

import (
	"context"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
)

// ListOptions 市场侧订单列表查询参数
type ListOptions struct {
	PerPage int
	Page    int
	Expand  string
}

// Marketplace 市场平台适配器接口（Rozetka）
type Marketplace interface {
	CheckToken(ctx context.Context) error
	FetchRecentOrders(ctx context.Context, opts ListOptions) ([]matching.OrderRecord, error)
}

// CRM CRM 平台适配器接口（KeyCRM）
type CRM interface {
	FetchRecentOrders(ctx context.Context, limit int, include string) ([]matching.OrderRecord, error)
	FetchOrderByID(ctx context.Context, orderID string, include string) (matching.OrderRecord, error)
	UpdateOrder(ctx context.Context, orderID string, payload map[string]interface{}) error
}
