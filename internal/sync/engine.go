package sync

import (
	"context"
	"strings"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/combined"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/platform"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/errorutil"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/logger"
)

// maxURLs 写入 CRM 的 URL 数量上限
const maxURLs = 10

// Config 同步引擎配置
type Config struct {
	LinkFieldUUID     string
	KeycrmInclude     string
	Scan              ScanConfig
	DirectMaxAttempts int
}

// Result 一次同步的结果
// Updated=false 且带 Reason 是常规结束，不是错误
type Result struct {
	Updated        bool        `json:"updated"`
	Reason         string      `json:"reason,omitempty"`
	KeycrmOrderID  interface{} `json:"keycrmOrderId,omitempty"`
	RozetkaOrderID interface{} `json:"rozetkaOrderId,omitempty"`
	FieldUUID      string      `json:"fieldUuid,omitempty"`
	Value          string      `json:"value,omitempty"`
	URLs           []string    `json:"urls,omitempty"`
	MatchField     string      `json:"matchField,omitempty"`
	MatchValue     string      `json:"matchValue,omitempty"`
	EventType      string      `json:"eventType,omitempty"`
	Debug          *Trace      `json:"debug,omitempty"`
}

// Engine 同步引擎：编排匹配、线索提取与回退解析，并执行 CRM 写入
type Engine struct {
	marketplace platform.Marketplace
	crm         platform.CRM
	fetcher     *combined.Fetcher
	cfg         Config
	logger      logger.Logger
}

// NewEngine 创建同步引擎
func NewEngine(
	marketplace platform.Marketplace,
	crm platform.CRM,
	fetcher *combined.Fetcher,
	cfg Config,
	log logger.Logger,
) *Engine {
	if cfg.LinkFieldUUID == "" {
		cfg.LinkFieldUUID = "OR_1002"
	}
	if cfg.Scan.MaxPages <= 0 {
		cfg.Scan.MaxPages = 5
	}
	if cfg.Scan.PerPage <= 0 {
		cfg.Scan.PerPage = 100
	}
	if cfg.DirectMaxAttempts <= 0 {
		cfg.DirectMaxAttempts = 5
	}
	return &Engine{
		marketplace: marketplace,
		crm:         crm,
		fetcher:     fetcher,
		cfg:         cfg,
		logger:      log,
	}
}

// payloadSummary 从载荷汇总出的线索
type payloadSummary struct {
	orderCandidate matching.OrderRecord
	keycrmHints    *matching.HintSet
	rozetkaHints   *matching.HintSet
	keycrmOrderID  interface{}
}

// summarizePayload 提取载荷线索：载荷整体与内嵌订单各跑一遍线索收集
func summarizePayload(payload matching.OrderRecord) payloadSummary {
	orderCandidate := matching.PayloadOrderCandidate(payload)

	keycrmHints := matching.NewHintSet().Merge(
		matching.CollectHints(payload, matching.KeycrmHintFields, 2),
		matching.CollectHints(orderCandidate, matching.KeycrmHintFields, 2),
	)
	rozetkaHints := matching.NewHintSet().Merge(
		matching.CollectHints(payload, matching.RozetkaHintFields, 2),
		matching.CollectHints(orderCandidate, matching.RozetkaHintFields, 2),
	)

	keycrmOrderID := matching.FindKeycrmOrderID(orderCandidate)
	if keycrmOrderID == nil {
		keycrmOrderID = matching.FindKeycrmOrderID(payload)
	}

	return payloadSummary{
		orderCandidate: orderCandidate,
		keycrmHints:    keycrmHints,
		rozetkaHints:   rozetkaHints,
		keycrmOrderID:  keycrmOrderID,
	}
}

// SyncLatest 对最新配对执行同步（不依赖具体 Webhook 载荷）
func (e *Engine) SyncLatest(ctx context.Context) (*Result, error) {
	data, err := e.fetcher.Fetch(ctx)
	if err != nil {
		return nil, errorutil.RetriableWrap(err, "fetch combined orders failed")
	}

	pair := data.PrimaryPair()
	if pair == nil {
		return &Result{
			Updated: false,
			Reason:  "No matched orders found between Rozetka and KeyCRM.",
		}, nil
	}

	urls := matching.UniqueItemURLs(pair.PurchaseItems)
	if len(urls) == 0 {
		return &Result{
			Updated: false,
			Reason:  "No Rozetka product URLs found for the latest matched order.",
		}, nil
	}

	keycrmOrderID := matching.FindKeycrmOrderID(pair.KeycrmOrder)
	if keycrmOrderID == nil {
		keycrmOrderID = data.Association.KeycrmOrderID
	}
	if keycrmOrderID == nil {
		return &Result{
			Updated: false,
			Reason:  "Unable to resolve KeyCRM order ID for the matched order.",
		}, nil
	}

	value := joinURLs(urls)
	if value == "" {
		return &Result{
			Updated: false,
			Reason:  "Resolved product URLs list is empty.",
		}, nil
	}

	if err := e.writeLinkField(ctx, matching.Stringify(keycrmOrderID), value); err != nil {
		return nil, err
	}

	return &Result{
		Updated:        true,
		KeycrmOrderID:  keycrmOrderID,
		RozetkaOrderID: pair.RozetkaOrder["id"],
		FieldUUID:      e.cfg.LinkFieldUUID,
		Value:          value,
		URLs:           urls,
		MatchField:     pair.MatchField,
		MatchValue:     pair.MatchValue,
	}, nil
}

// SyncForPayload 按 Webhook 载荷执行同步
// 解析阶梯见各步注释；所有解析失败都是 Updated=false 的常规结果，
// 只有联合视图拉取失败和最终写入失败会作为可重试错误上抛。
func (e *Engine) SyncForPayload(ctx context.Context, payload matching.OrderRecord) (*Result, error) {
	summary := summarizePayload(payload)
	resolvedKeycrmOrderID := summary.keycrmOrderID
	rozetkaHints := matching.NewHintSet().Merge(summary.rozetkaHints)

	data, err := e.fetcher.Fetch(ctx)
	if err != nil {
		return nil, errorutil.RetriableWrap(err, "fetch combined orders failed")
	}

	matchResult := data.Result()

	rozetkaFallbackDebug := &RozetkaFallbackDebug{
		Attempts: []int{},
		PerPage:  e.cfg.Scan.PerPage,
		MaxPages: e.cfg.Scan.MaxPages,
	}
	keycrmFallbackDebug := &KeycrmFallbackDebug{
		Attempts:    []string{},
		MaxAttempts: e.cfg.DirectMaxAttempts,
	}

	// 第一梯队：配对结果里按 KeyCRM 线索直接命中
	matchedPair := matching.FindPairByKeycrmHints(matchResult, summary.keycrmHints)
	var rozetkaOrder matching.OrderRecord
	var purchaseItems []matching.PurchaseItem
	purchaseItemsSource := "unknown"
	if matchedPair != nil {
		rozetkaOrder = matchedPair.RozetkaOrder
		purchaseItems = matchedPair.PurchaseItems
		purchaseItemsSource = "matchedPair"
	}

	// 第二梯队：联合视图的 KeyCRM 候选集合
	keycrmCandidates := make([]matching.OrderRecord, 0)
	if matchedPair != nil && matchedPair.KeycrmOrder != nil {
		keycrmCandidates = append(keycrmCandidates, matchedPair.KeycrmOrder)
	}
	if data.Keycrm.MatchedOrder != nil {
		keycrmCandidates = append(keycrmCandidates, data.Keycrm.MatchedOrder)
	}
	if data.Keycrm.FallbackOrder != nil {
		keycrmCandidates = append(keycrmCandidates, data.Keycrm.FallbackOrder)
	}
	keycrmCandidates = append(keycrmCandidates, data.Keycrm.All...)
	keycrmCandidates = append(keycrmCandidates, data.Matches.UnmatchedKeycrm...)
	if data.Association.KeycrmOrder != nil {
		keycrmCandidates = append(keycrmCandidates, data.Association.KeycrmOrder)
	}
	if data.Association.KeycrmFallbackOrder != nil {
		keycrmCandidates = append(keycrmCandidates, data.Association.KeycrmFallbackOrder)
	}

	matchedKeycrmOrder := matching.FindOrderByHints(keycrmCandidates, matching.KeycrmHintFields, summary.keycrmHints)
	if matchedKeycrmOrder == nil && matchedPair != nil {
		matchedKeycrmOrder = matchedPair.KeycrmOrder
	}

	// 第三梯队：载荷自带的 ID 直查
	if matchedKeycrmOrder == nil && resolvedKeycrmOrderID != nil {
		directID := matching.Stringify(resolvedKeycrmOrderID)
		keycrmFallbackDebug.Attempts = mergeAttempts(keycrmFallbackDebug.Attempts, []string{directID})
		order, err := e.crm.FetchOrderByID(ctx, directID, e.cfg.KeycrmInclude)
		if err != nil {
			keycrmFallbackDebug.LastError = err.Error()
		} else if order != nil {
			matchedKeycrmOrder = order
			keycrmCandidates = append(keycrmCandidates, order)
			keycrmFallbackDebug.Found = true
			keycrmFallbackDebug.FoundID = directID
		}
	}

	// 第四梯队：线索值逐个当 ID 直查（受尝试上限约束）
	if matchedKeycrmOrder == nil {
		direct := fetchKeycrmDirect(ctx, e.crm, summary.keycrmHints, e.cfg.KeycrmInclude, e.cfg.DirectMaxAttempts, keycrmFallbackDebug)
		if direct.Order != nil {
			matchedKeycrmOrder = direct.Order
			keycrmCandidates = append(keycrmCandidates, direct.Order)
			if resolvedKeycrmOrderID == nil {
				resolvedKeycrmOrderID = keycrmIDFromOrder(direct.Order)
			}
		}
	}

	if matchedKeycrmOrder != nil && resolvedKeycrmOrderID == nil {
		resolvedKeycrmOrderID = keycrmIDFromOrder(matchedKeycrmOrder)
	}
	if resolvedKeycrmOrderID == nil && data.Association.KeycrmOrderID != nil {
		resolvedKeycrmOrderID = data.Association.KeycrmOrderID
	}

	rozetkaCandidates := make([]matching.OrderRecord, 0)

	trace := func(urlsCount int) *Trace {
		var pairDebug *PairDebug
		if matchedPair != nil {
			pairDebug = &PairDebug{
				MatchField:     matchedPair.MatchField,
				MatchValue:     matchedPair.MatchValue,
				KeycrmOrderID:  keycrmIDFromOrder(matchedPair.KeycrmOrder),
				RozetkaOrderID: matching.FirstNonEmpty(matchedPair.RozetkaOrder, []string{"id", "order_id", "number"}),
			}
		}
		return &Trace{
			KeycrmHints:           limitedHintValues(summary.keycrmHints, debugListLimit),
			RozetkaHints:          limitedHintValues(rozetkaHints, debugListLimit),
			KeycrmCandidates:      len(keycrmCandidates),
			RozetkaCandidates:     len(rozetkaCandidates),
			ResolvedKeycrmOrderID: resolvedKeycrmOrderID,
			MatchedPair:           pairDebug,
			PurchaseItemsSource:   purchaseItemsSource,
			RozetkaFallback:       rozetkaFallbackDebug,
			KeycrmDirectFetch:     keycrmFallbackDebug,
			URLsCount:             urlsCount,
		}
	}

	if resolvedKeycrmOrderID == nil {
		return &Result{
			Updated: false,
			Reason:  "Unable to resolve KeyCRM order ID from webhook payload.",
			Debug:   trace(0),
		}, nil
	}

	// 交叉授粉：已解析的 KeyCRM 订单里的标识字段可以解锁市场侧匹配
	if matchedKeycrmOrder != nil {
		rozetkaHints.Merge(matching.CollectHints(matchedKeycrmOrder, matching.RozetkaHintFields, 2))
	}

	// 市场侧阶梯一：配对命中直接拿订单；否则分页扫描
	if rozetkaOrder == nil {
		rozetkaFallbackDebug.Enabled = true
		scan := searchRozetkaFallback(ctx, e.marketplace, rozetkaHints, e.cfg.Scan, rozetkaFallbackDebug)
		if scan.Order != nil {
			rozetkaOrder = scan.Order
			if len(purchaseItems) == 0 {
				purchaseItems = matching.ExtractPurchaseItems(rozetkaOrder)
				if len(purchaseItems) > 0 {
					purchaseItemsSource = "rozetkaFallback"
				}
			}
		}
	}

	// 市场侧阶梯二：联合视图的 Rozetka 候选集合
	if rozetkaOrder != nil {
		rozetkaCandidates = append(rozetkaCandidates, rozetkaOrder)
	}
	if data.Association.RozetkaOrder != nil {
		rozetkaCandidates = append(rozetkaCandidates, data.Association.RozetkaOrder)
	}
	rozetkaCandidates = append(rozetkaCandidates, data.Rozetka.All...)
	for _, entry := range data.Matches.UnmatchedRozetka {
		if entry.Order != nil {
			rozetkaCandidates = append(rozetkaCandidates, entry.Order)
		}
	}

	if rozetkaOrder == nil {
		rozetkaOrder = matching.FindOrderByHints(rozetkaCandidates, matching.RozetkaHintFields, rozetkaHints)
	}

	// 市场侧兜底：联合视图的最新订单
	if rozetkaOrder == nil && data.Rozetka.Order != nil {
		rozetkaOrder = data.Rozetka.Order
	}

	if rozetkaOrder == nil {
		return &Result{
			Updated:       false,
			Reason:        "Unable to match Rozetka order for the provided payload.",
			KeycrmOrderID: resolvedKeycrmOrderID,
			Debug:         trace(0),
		}, nil
	}

	if len(purchaseItems) == 0 {
		purchaseItems = matching.ExtractPurchaseItems(rozetkaOrder)
		if len(purchaseItems) > 0 {
			purchaseItemsSource = "rozetkaOrder"
		}
	}
	if len(purchaseItems) == 0 && summary.orderCandidate != nil {
		purchaseItems = matching.ExtractPurchaseItems(summary.orderCandidate)
		if len(purchaseItems) > 0 {
			purchaseItemsSource = "webhookPayload"
		}
	}

	urls := matching.UniqueItemURLs(purchaseItems)
	if len(urls) == 0 {
		return &Result{
			Updated:        false,
			Reason:         "No Rozetka product URLs found for the matched order.",
			KeycrmOrderID:  resolvedKeycrmOrderID,
			RozetkaOrderID: rozetkaOrderID(rozetkaOrder),
			Debug:          trace(0),
		}, nil
	}

	value := joinURLs(urls)
	if value == "" {
		return &Result{
			Updated:        false,
			Reason:         "Resolved product URLs list is empty after formatting.",
			KeycrmOrderID:  resolvedKeycrmOrderID,
			RozetkaOrderID: rozetkaOrderID(rozetkaOrder),
			Debug:          trace(len(urls)),
		}, nil
	}

	if err := e.writeLinkField(ctx, matching.Stringify(resolvedKeycrmOrderID), value); err != nil {
		return nil, err
	}

	e.logger.Infof(ctx, "[Sync] link field updated: keycrm_order=%v urls=%d", resolvedKeycrmOrderID, len(urls))

	result := &Result{
		Updated:        true,
		KeycrmOrderID:  resolvedKeycrmOrderID,
		RozetkaOrderID: rozetkaOrderID(rozetkaOrder),
		FieldUUID:      e.cfg.LinkFieldUUID,
		Value:          value,
		URLs:           urls,
		Debug:          trace(len(urls)),
	}
	if matchedPair != nil {
		result.MatchField = matchedPair.MatchField
		result.MatchValue = matchedPair.MatchValue
	}
	return result, nil
}

// writeLinkField 将 URL 列表写入 CRM 订单的自定义字段
func (e *Engine) writeLinkField(ctx context.Context, keycrmOrderID, value string) error {
	payload := map[string]interface{}{
		"custom_fields": []map[string]interface{}{
			{
				"uuid":  e.cfg.LinkFieldUUID,
				"value": value,
			},
		},
	}
	if err := e.crm.UpdateOrder(ctx, keycrmOrderID, payload); err != nil {
		return errorutil.RetriableWrap(err, "update keycrm order failed")
	}
	return nil
}

// joinURLs 换行拼接 URL，上限 maxURLs 条
func joinURLs(urls []string) string {
	if len(urls) > maxURLs {
		urls = urls[:maxURLs]
	}
	trimmed := make([]string, 0, len(urls))
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url != "" {
			trimmed = append(trimmed, url)
		}
	}
	return strings.Join(trimmed, "\n")
}

// keycrmIDFromOrder 从订单导出可用的 KeyCRM ID（id 系字段优先，number 兜底）
func keycrmIDFromOrder(order matching.OrderRecord) interface{} {
	if id := matching.FindKeycrmOrderID(order); id != nil {
		return id
	}
	for _, field := range []string{"number", "order_number"} {
		if value, ok := matching.FieldValue(order, field); ok {
			return value
		}
	}
	return nil
}

func rozetkaOrderID(order matching.OrderRecord) interface{} {
	for _, field := range []string{"id", "order_id"} {
		if value, ok := matching.FieldValue(order, field); ok {
			return value
		}
	}
	return nil
}
