package combined

import (
	"context"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/platform"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/logger"
)

// FetchConfig 联合视图拉取参数
type FetchConfig struct {
	RozetkaLimit   int
	RozetkaPage    int
	RozetkaExpand  string
	SkipTokenCheck bool
	KeycrmLimit    int
	KeycrmInclude  string
}

// RozetkaView Rozetka 侧视图
type RozetkaView struct {
	Order         matching.OrderRecord    `json:"order"`
	Count         int                     `json:"count"`
	All           []matching.OrderRecord  `json:"all"`
	PurchaseItems []matching.PurchaseItem `json:"purchaseItems"`
}

// MatchInfo 命中字段信息
type MatchInfo struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// KeycrmView KeyCRM 侧视图
type KeycrmView struct {
	MatchedOrder  matching.OrderRecord   `json:"matchedOrder"`
	FallbackOrder matching.OrderRecord   `json:"fallbackOrder"`
	Count         int                    `json:"count"`
	All           []matching.OrderRecord `json:"all"`
	MatchInfo     *MatchInfo             `json:"matchInfo"`
}

// Association 主关联（最新配对或两侧最新订单的组合）
type Association struct {
	RozetkaOrderID      interface{}             `json:"rozetkaOrderId"`
	RozetkaSourceUUID   interface{}             `json:"rozetkaSourceUuid"`
	KeycrmOrderID       interface{}             `json:"keycrmOrderId"`
	MatchField          string                  `json:"matchField,omitempty"`
	MatchValue          string                  `json:"matchValue,omitempty"`
	PurchaseItems       []matching.PurchaseItem `json:"purchaseItems"`
	RozetkaOrder        matching.OrderRecord    `json:"rozetkaOrder"`
	KeycrmOrder         matching.OrderRecord    `json:"keycrmOrder"`
	KeycrmFallbackOrder matching.OrderRecord    `json:"keycrmFallbackOrder"`
}

// UnmatchedRozetkaEntry 未配对的 Rozetka 订单及其商品条目
type UnmatchedRozetkaEntry struct {
	Order         matching.OrderRecord    `json:"order"`
	PurchaseItems []matching.PurchaseItem `json:"purchaseItems"`
}

// Matches 配对结果视图
type Matches struct {
	Pairs            []matching.MatchPair    `json:"pairs"`
	UnmatchedRozetka []UnmatchedRozetkaEntry `json:"unmatchedRozetka"`
	UnmatchedKeycrm  []matching.OrderRecord  `json:"unmatchedKeycrm"`
	Stats            matching.MatchStats     `json:"stats"`
}

// Meta 拉取元信息
type Meta struct {
	FetchedAt    time.Time `json:"fetchedAt"`
	RozetkaLimit int       `json:"rozetkaLimit"`
	KeycrmLimit  int       `json:"keycrmLimit"`
}

// Data 联合视图：两侧最近订单 + 匹配结果 + 主关联
// 每次调用现算，不做缓存
type Data struct {
	Rozetka     RozetkaView `json:"rozetka"`
	Keycrm      KeycrmView  `json:"keycrm"`
	Association Association `json:"association"`
	Matches     Matches     `json:"matches"`
	Meta        Meta        `json:"meta"`
}

// Result 配对结果的快捷访问
func (d *Data) Result() *matching.MatchResult {
	if d == nil {
		return nil
	}
	return &matching.MatchResult{
		Pairs:           d.Matches.Pairs,
		UnmatchedKeycrm: d.Matches.UnmatchedKeycrm,
		Stats:           d.Matches.Stats,
	}
}

// PrimaryPair 首个配对（无配对返回 nil）
func (d *Data) PrimaryPair() *matching.MatchPair {
	if d == nil || len(d.Matches.Pairs) == 0 {
		return nil
	}
	return &d.Matches.Pairs[0]
}

// Fetcher 联合视图拉取器
type Fetcher struct {
	marketplace platform.Marketplace
	crm         platform.CRM
	cfg         FetchConfig
	logger      logger.Logger
}

// NewFetcher 创建拉取器
func NewFetcher(marketplace platform.Marketplace, crm platform.CRM, cfg FetchConfig, log logger.Logger) *Fetcher {
	return &Fetcher{
		marketplace: marketplace,
		crm:         crm,
		cfg:         cfg,
		logger:      log,
	}
}

// Fetch 拉取两侧最近订单并匹配
func (f *Fetcher) Fetch(ctx context.Context) (*Data, error) {
	if !f.cfg.SkipTokenCheck {
		if err := f.marketplace.CheckToken(ctx); err != nil {
			return nil, err
		}
	}

	var (
		rozetkaOrders []matching.OrderRecord
		keycrmOrders  []matching.OrderRecord
	)

	// 两个平台并发拉取
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orders, err := f.marketplace.FetchRecentOrders(gctx, platform.ListOptions{
			PerPage: f.cfg.RozetkaLimit,
			Page:    f.cfg.RozetkaPage,
			Expand:  f.cfg.RozetkaExpand,
		})
		if err != nil {
			return err
		}
		rozetkaOrders = orders
		return nil
	})
	g.Go(func() error {
		orders, err := f.crm.FetchRecentOrders(gctx, f.cfg.KeycrmLimit, f.cfg.KeycrmInclude)
		if err != nil {
			return err
		}
		keycrmOrders = orders
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.logger.Debugf(ctx, "[Combined] fetched rozetka=%d keycrm=%d", len(rozetkaOrders), len(keycrmOrders))

	return buildData(rozetkaOrders, keycrmOrders, f.cfg), nil
}

// buildData 组装联合视图
func buildData(rozetkaOrders, keycrmOrders []matching.OrderRecord, cfg FetchConfig) *Data {
	result := matching.Match(rozetkaOrders, keycrmOrders)
	primaryPair := (*matching.MatchPair)(nil)
	if len(result.Pairs) > 0 {
		primaryPair = &result.Pairs[0]
	}

	var rozetkaPrimary matching.OrderRecord
	if primaryPair != nil {
		rozetkaPrimary = primaryPair.RozetkaOrder
	} else if len(rozetkaOrders) > 0 {
		rozetkaPrimary = rozetkaOrders[0]
	}

	var keycrmPrimary matching.OrderRecord
	if len(keycrmOrders) > 0 {
		keycrmPrimary = keycrmOrders[0]
	}

	var matchedKeycrm matching.OrderRecord
	matchField := ""
	matchValue := ""
	var rozetkaItems []matching.PurchaseItem
	if primaryPair != nil {
		matchedKeycrm = primaryPair.KeycrmOrder
		matchField = primaryPair.MatchField
		matchValue = primaryPair.MatchValue
		rozetkaItems = primaryPair.PurchaseItems
	} else {
		rozetkaItems = matching.ExtractPurchaseItems(rozetkaPrimary)
	}

	var matchInfo *MatchInfo
	if matchedKeycrm != nil && matchField != "" {
		matchInfo = &MatchInfo{Field: matchField, Value: matchValue}
	}

	var fallbackOrder matching.OrderRecord
	if matchedKeycrm == nil {
		fallbackOrder = keycrmPrimary
	}

	keycrmOrderID := matching.FindKeycrmOrderID(matchedKeycrm)
	if keycrmOrderID == nil {
		keycrmOrderID = matching.FindKeycrmOrderID(keycrmPrimary)
	}

	associationKeycrm := matchedKeycrm
	if associationKeycrm == nil {
		associationKeycrm = keycrmPrimary
	}

	var keycrmFallback matching.OrderRecord
	if matchedKeycrm != nil && keycrmPrimary != nil && !sameRecord(matchedKeycrm, keycrmPrimary) {
		keycrmFallback = keycrmPrimary
	}

	unmatchedRozetka := make([]UnmatchedRozetkaEntry, 0, len(result.UnmatchedRozetka))
	for _, order := range result.UnmatchedRozetka {
		unmatchedRozetka = append(unmatchedRozetka, UnmatchedRozetkaEntry{
			Order:         order,
			PurchaseItems: matching.ExtractPurchaseItems(order),
		})
	}

	var rozetkaSourceUUID interface{}
	if rozetkaPrimary != nil {
		rozetkaSourceUUID = rozetkaPrimary["source_uuid"]
	}

	return &Data{
		Rozetka: RozetkaView{
			Order:         rozetkaPrimary,
			Count:         len(rozetkaOrders),
			All:           rozetkaOrders,
			PurchaseItems: rozetkaItems,
		},
		Keycrm: KeycrmView{
			MatchedOrder:  matchedKeycrm,
			FallbackOrder: fallbackOrder,
			Count:         len(keycrmOrders),
			All:           keycrmOrders,
			MatchInfo:     matchInfo,
		},
		Association: Association{
			RozetkaOrderID:      primaryID(rozetkaPrimary),
			RozetkaSourceUUID:   rozetkaSourceUUID,
			KeycrmOrderID:       keycrmOrderID,
			MatchField:          matchField,
			MatchValue:          matchValue,
			PurchaseItems:       rozetkaItems,
			RozetkaOrder:        rozetkaPrimary,
			KeycrmOrder:         associationKeycrm,
			KeycrmFallbackOrder: keycrmFallback,
		},
		Matches: Matches{
			Pairs:            result.Pairs,
			UnmatchedRozetka: unmatchedRozetka,
			UnmatchedKeycrm:  result.UnmatchedKeycrm,
			Stats:            result.Stats,
		},
		Meta: Meta{
			FetchedAt:    time.Now().UTC(),
			RozetkaLimit: cfg.RozetkaLimit,
			KeycrmLimit:  cfg.KeycrmLimit,
		},
	}
}

func primaryID(record matching.OrderRecord) interface{} {
	if record == nil {
		return nil
	}
	return record["id"]
}

// sameRecord 按对象身份比较两条记录（map 为引用类型，比较底层指针）
func sameRecord(a, b matching.OrderRecord) bool {
	if a == nil || b == nil {
		return false
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
