package matching

import (
	"strings"

	"github.com/spf13/cast"
)

// OrderRecord 平台订单的动态结构（字段名 → 任意值）
// 两个平台的订单都没有固定 schema，只有候选标识字段有语义
type OrderRecord map[string]interface{}

// 匹配用候选标识字段（按优先级）
var (
	// RozetkaMatchFields Rozetka 侧候选标识字段
	RozetkaMatchFields = []string{
		"source_uuid",
		"global_source_uuid",
		"id",
		"order_id",
		"number",
		"order_number",
	}

	// KeycrmMatchFields KeyCRM 侧候选标识字段（按此顺序逐个尝试）
	KeycrmMatchFields = []string{
		"source_uuid",
		"global_source_uuid",
		"number",
		"order_number",
		"id",
	}

	// KeycrmHintFields 从 Webhook 载荷提取 KeyCRM 线索的字段集（比匹配字段更宽）
	KeycrmHintFields = []string{
		"id",
		"order_id",
		"orderId",
		"number",
		"order_number",
		"source_uuid",
		"global_source_uuid",
	}

	// RozetkaHintFields 从载荷提取 Rozetka 线索的字段集
	RozetkaHintFields = []string{
		"id",
		"order_id",
		"number",
		"order_number",
		"source_uuid",
		"global_source_uuid",
	}
)

// Stringify 将动态字段值转为字符串（跨平台比较只看文本相等）
func Stringify(value interface{}) string {
	return cast.ToString(value)
}

// FieldValue 读取字段值；缺失与 null 同样视为不存在
func FieldValue(record OrderRecord, field string) (interface{}, bool) {
	if record == nil {
		return nil, false
	}
	value, ok := record[field]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

// CollectValues 收集一条订单候选字段的字符串值集合
func CollectValues(record OrderRecord, fields []string) *HintSet {
	values := NewHintSet()
	for _, field := range fields {
		if value, ok := FieldValue(record, field); ok {
			values.Add(Stringify(value))
		}
	}
	return values
}

// FirstNonEmpty 按字段顺序取第一个非空字符串值
func FirstNonEmpty(record OrderRecord, fields []string) string {
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

// FindKeycrmOrderID 从记录中取 KeyCRM 订单 ID（原始值）
func FindKeycrmOrderID(record OrderRecord) interface{} {
	for _, field := range []string{"id", "order_id", "orderId"} {
		if value, ok := FieldValue(record, field); ok {
			return value
		}
	}
	return nil
}

// PayloadOrderCandidate 从 Webhook 载荷中提取内嵌订单对象
// 常见包裹形态：order 成员、data / data.order 成员，否则取载荷本身
func PayloadOrderCandidate(payload OrderRecord) OrderRecord {
	if payload == nil {
		return nil
	}

	if order, ok := payload["order"].(map[string]interface{}); ok {
		return OrderRecord(order)
	}

	if data, ok := payload["data"].(map[string]interface{}); ok {
		if order, ok := data["order"].(map[string]interface{}); ok {
			return OrderRecord(order)
		}
		return OrderRecord(data)
	}

	return payload
}

// AsRecord 将任意 JSON 解码值转为 OrderRecord
func AsRecord(value interface{}) (OrderRecord, bool) {
	switch rec := value.(type) {
	case OrderRecord:
		return rec, rec != nil
	case map[string]interface{}:
		return OrderRecord(rec), rec != nil
	default:
		return nil, false
	}
}
