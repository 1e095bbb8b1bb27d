package sync

import (
	"context"
	"strings"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/platform"
)

// ScanConfig Rozetka 分页扫描配置
type ScanConfig struct {
	PerPage  int
	MaxPages int
	Expand   string
}

// scanResult 扫描结果
type scanResult struct {
	Order    matching.OrderRecord
	Page     int
	Attempts []int
}

// searchRozetkaFallback 按线索分页扫描 Rozetka 订单列表
// 逐页拉取直到：命中线索 / 返回空页（数据尽头）/ 适配器出错（停止并记录）。
// 只读操作；每个尝试过的页码都记入诊断轨迹。
func searchRozetkaFallback(
	ctx context.Context,
	marketplace platform.Marketplace,
	hints *matching.HintSet,
	cfg ScanConfig,
	debug *RozetkaFallbackDebug,
) scanResult {
	result := scanResult{Attempts: []int{}}
	if marketplace == nil || hints.Len() == 0 {
		return result
	}

	for page := 1; page <= cfg.MaxPages; page++ {
		orders, err := marketplace.FetchRecentOrders(ctx, platform.ListOptions{
			PerPage: cfg.PerPage,
			Page:    page,
			Expand:  cfg.Expand,
		})
		if err != nil {
			// 出错即停，不重试同一个失败调用
			if debug != nil {
				debug.LastError = err.Error()
			}
			break
		}

		result.Attempts = append(result.Attempts, page)

		if len(orders) == 0 {
			if debug != nil {
				debug.ReachedEnd = true
			}
			break
		}

		if match := matching.FindOrderByHints(orders, matching.RozetkaHintFields, hints); match != nil {
			result.Order = match
			result.Page = page
			if debug != nil {
				debug.FoundOnPage = page
				debug.Attempts = tailInts(result.Attempts, debugListLimit)
			}
			return result
		}
	}

	if debug != nil {
		debug.Attempts = tailInts(result.Attempts, debugListLimit)
	}
	return result
}

// directResult 直查结果
type directResult struct {
	Order    matching.OrderRecord
	ID       string
	Attempts []string
}

// fetchKeycrmDirect 将线索值逐个当作订单 ID 直查 KeyCRM
// 命中第一条非空订单或达到尝试上限即停；适配器出错停止并记录。
// 尝试过的 ID 记入诊断轨迹，只保留最近 debugListLimit 条。
func fetchKeycrmDirect(
	ctx context.Context,
	crm platform.CRM,
	hints *matching.HintSet,
	include string,
	maxAttempts int,
	debug *KeycrmFallbackDebug,
) directResult {
	result := directResult{Attempts: []string{}}
	if crm == nil || hints.Len() == 0 {
		return result
	}

	for _, hint := range hints.Values() {
		if maxAttempts > 0 && len(result.Attempts) >= maxAttempts {
			break
		}

		candidate := strings.TrimSpace(hint)
		if candidate == "" {
			continue
		}

		result.Attempts = append(result.Attempts, candidate)

		order, err := crm.FetchOrderByID(ctx, candidate, include)
		if err != nil {
			if debug != nil {
				debug.LastError = err.Error()
			}
			break
		}

		if order != nil {
			result.Order = order
			result.ID = candidate
			if debug != nil {
				debug.Found = true
				debug.FoundID = candidate
				debug.Attempts = mergeAttempts(debug.Attempts, result.Attempts)
			}
			return result
		}
	}

	if debug != nil {
		debug.Attempts = mergeAttempts(debug.Attempts, result.Attempts)
	}
	return result
}

// mergeAttempts 合并去重并截断到最近 debugListLimit 条
func mergeAttempts(existing, attempts []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(attempts))
	merged := make([]string, 0, len(existing)+len(attempts))
	for _, value := range append(append([]string{}, existing...), attempts...) {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		merged = append(merged, value)
	}
	return tailStrings(merged, debugListLimit)
}
