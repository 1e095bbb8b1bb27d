package sync

import "github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"

// debugListLimit 诊断列表长度上限（控内存）
const debugListLimit = 10

// RozetkaFallbackDebug Rozetka 分页扫描的诊断轨迹
type RozetkaFallbackDebug struct {
	Enabled     bool   `json:"enabled"`
	Attempts    []int  `json:"attempts"`
	FoundOnPage int    `json:"foundOnPage,omitempty"`
	PerPage     int    `json:"perPage"`
	MaxPages    int    `json:"maxPages"`
	ReachedEnd  bool   `json:"reachedEnd"`
	LastError   string `json:"lastError,omitempty"`
}

// KeycrmFallbackDebug KeyCRM 直查的诊断轨迹
type KeycrmFallbackDebug struct {
	Attempts    []string `json:"attempts"`
	Found       bool     `json:"found"`
	FoundID     string   `json:"foundId,omitempty"`
	LastError   string   `json:"lastError,omitempty"`
	MaxAttempts int      `json:"maxAttempts"`
}

// PairDebug 配对命中的摘要
type PairDebug struct {
	MatchField     string      `json:"matchField,omitempty"`
	MatchValue     string      `json:"matchValue,omitempty"`
	KeycrmOrderID  interface{} `json:"keycrmOrderId"`
	RozetkaOrderID interface{} `json:"rozetkaOrderId"`
}

// Trace 一次同步的完整调试轨迹（只做观测，不参与业务判断）
type Trace struct {
	KeycrmHints           []string              `json:"keycrmHints"`
	RozetkaHints          []string              `json:"rozetkaHints"`
	KeycrmCandidates      int                   `json:"keycrmCandidates"`
	RozetkaCandidates     int                   `json:"rozetkaCandidates"`
	ResolvedKeycrmOrderID interface{}           `json:"resolvedKeycrmOrderId"`
	MatchedPair           *PairDebug            `json:"matchedPair"`
	PurchaseItemsSource   string                `json:"purchaseItemsSource"`
	RozetkaFallback       *RozetkaFallbackDebug `json:"rozetkaFallback"`
	KeycrmDirectFetch     *KeycrmFallbackDebug  `json:"keycrmDirectFetch"`
	URLsCount             int                   `json:"urlsCount,omitempty"`
}

// limitedHintValues 取集合前 limit 个值
func limitedHintValues(set *matching.HintSet, limit int) []string {
	values := set.Values()
	if len(values) > limit {
		values = values[:limit]
	}
	if values == nil {
		values = []string{}
	}
	return values
}

// tailInts 保留最近 limit 个元素
func tailInts(values []int, limit int) []int {
	if len(values) <= limit {
		return append([]int{}, values...)
	}
	return append([]int{}, values[len(values)-limit:]...)
}

// tailStrings 保留最近 limit 个元素
func tailStrings(values []string, limit int) []string {
	if len(values) <= limit {
		return append([]string{}, values...)
	}
	return append([]string{}, values[len(values)-limit:]...)
}
