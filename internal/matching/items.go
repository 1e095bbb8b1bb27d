package matching

import "strings"

// PurchaseItem 从 Rozetka 订单购买行派生的商品条目（按需计算，不落盘）
type PurchaseItem struct {
	ItemID     interface{} `json:"itemId"`
	ItemURL    string      `json:"itemUrl,omitempty"`
	ItemName   string      `json:"itemName,omitempty"`
	ItemPrice  interface{} `json:"itemPrice"`
	PurchaseID interface{} `json:"purchaseId"`
	Quantity   interface{} `json:"quantity"`
}

// 商品 URL / 名称的候选字段（商品级优先，购买行级兜底）
var (
	itemURLFields      = []string{"url", "href", "link", "product_url", "productUrl"}
	purchaseURLFields  = []string{"url", "product_url", "productUrl", "link"}
	itemNameFields     = []string{"name", "name_ua", "title", "product_name"}
	purchaseNameFields = []string{"name", "title"}
)

// ExtractPurchaseItems 展开订单的购买行为商品条目
// 无 item 引用的行跳过；ID、URL、名称全部缺失的条目丢弃。
// 纯函数，保持购买行原有顺序。
func ExtractPurchaseItems(order OrderRecord) []PurchaseItem {
	purchases, ok := order["purchases"].([]interface{})
	if !ok || len(purchases) == 0 {
		return nil
	}

	items := make([]PurchaseItem, 0, len(purchases))
	for _, raw := range purchases {
		purchase, ok := AsRecord(raw)
		if !ok {
			continue
		}

		item, ok := AsRecord(purchase["item"])
		if !ok {
			continue
		}

		entry := PurchaseItem{
			ItemID:     item["id"],
			ItemURL:    resolveCandidate(item, itemURLFields, purchase, purchaseURLFields),
			ItemName:   resolveCandidate(item, itemNameFields, purchase, purchaseNameFields),
			ItemPrice:  item["price"],
			PurchaseID: purchase["id"],
			Quantity:   purchase["quantity"],
		}

		if entry.ItemID == nil && entry.ItemURL == "" && entry.ItemName == "" {
			continue
		}
		items = append(items, entry)
	}

	return items
}

// UniqueItemURLs 去重收集商品 URL（保持出现顺序）
func UniqueItemURLs(items []PurchaseItem) []string {
	seen := make(map[string]struct{})
	urls := make([]string, 0, len(items))
	for _, item := range items {
		if item.ItemURL == "" {
			continue
		}
		if _, ok := seen[item.ItemURL]; ok {
			continue
		}
		seen[item.ItemURL] = struct{}{}
		urls = append(urls, item.ItemURL)
	}
	return urls
}

// resolveCandidate 两级候选字段取第一个非空修剪串
func resolveCandidate(item OrderRecord, itemFields []string, purchase OrderRecord, purchaseFields []string) string {
	if value := firstTrimmed(item, itemFields); value != "" {
		return value
	}
	return firstTrimmed(purchase, purchaseFields)
}

func firstTrimmed(record OrderRecord, fields []string) string {
	for _, field := range fields {
		value, ok := FieldValue(record, field)
		if !ok {
			continue
		}
		str := strings.TrimSpace(Stringify(value))
		if str != "" {
			return str
		}
	}
	return ""
}
