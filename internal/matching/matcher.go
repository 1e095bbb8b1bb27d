package matching

// MatchPair 一条已确认的跨平台订单关联
type MatchPair struct {
	RozetkaOrder  OrderRecord    `json:"rozetkaOrder"`
	KeycrmOrder   OrderRecord    `json:"keycrmOrder"`
	MatchField    string         `json:"matchField"`
	MatchValue    string         `json:"matchValue"`
	PurchaseItems []PurchaseItem `json:"purchaseItems"`
}

// MatchStats 匹配统计
type MatchStats struct {
	RozetkaCount          int `json:"rozetkaCount"`
	KeycrmCount           int `json:"keycrmCount"`
	PairedCount           int `json:"pairedCount"`
	UnmatchedRozetkaCount int `json:"unmatchedRozetkaCount"`
	UnmatchedKeycrmCount  int `json:"unmatchedKeycrmCount"`
}

// MatchResult 一次匹配的完整结果（创建后不再修改）
type MatchResult struct {
	Pairs            []MatchPair   `json:"pairs"`
	UnmatchedRozetka []OrderRecord `json:"unmatchedRozetka"`
	UnmatchedKeycrm  []OrderRecord `json:"unmatchedKeycrm"`
	Stats            MatchStats    `json:"stats"`
}

// Match 贪心匹配两侧订单序列
// 按 Rozetka 顺序逐单扫描：收集其候选字段字符串值集合，再按序扫描
// 未被占用的 KeyCRM 订单，按 KeycrmMatchFields 优先级取第一个命中的
// 字段。命中即占用（首配即得，不回溯），每条 KeyCRM 订单至多出现在
// 一个 MatchPair 中。纯函数，结果只取决于输入顺序与字段优先级表。
func Match(rozetkaOrders, keycrmOrders []OrderRecord) *MatchResult {
	pairs := make([]MatchPair, 0)
	unmatchedRozetka := make([]OrderRecord, 0)
	usedKeycrm := make(map[int]struct{})

	for _, rozetkaOrder := range rozetkaOrders {
		rozetkaValues := CollectValues(rozetkaOrder, RozetkaMatchFields)

		matchedIndex := -1
		matchedField := ""
		matchedValue := ""

		for index, keycrmOrder := range keycrmOrders {
			if _, used := usedKeycrm[index]; used {
				continue
			}

			for _, field := range KeycrmMatchFields {
				value, ok := FieldValue(keycrmOrder, field)
				if !ok {
					continue
				}

				stringValue := Stringify(value)
				if rozetkaValues.Has(stringValue) {
					matchedIndex = index
					matchedField = field
					matchedValue = stringValue
					break
				}
			}

			if matchedIndex >= 0 {
				break
			}
		}

		if matchedIndex >= 0 {
			usedKeycrm[matchedIndex] = struct{}{}
			pairs = append(pairs, MatchPair{
				RozetkaOrder:  rozetkaOrder,
				KeycrmOrder:   keycrmOrders[matchedIndex],
				MatchField:    matchedField,
				MatchValue:    matchedValue,
				PurchaseItems: ExtractPurchaseItems(rozetkaOrder),
			})
		} else {
			unmatchedRozetka = append(unmatchedRozetka, rozetkaOrder)
		}
	}

	unmatchedKeycrm := make([]OrderRecord, 0)
	for index, keycrmOrder := range keycrmOrders {
		if _, used := usedKeycrm[index]; !used {
			unmatchedKeycrm = append(unmatchedKeycrm, keycrmOrder)
		}
	}

	return &MatchResult{
		Pairs:            pairs,
		UnmatchedRozetka: unmatchedRozetka,
		UnmatchedKeycrm:  unmatchedKeycrm,
		Stats: MatchStats{
			RozetkaCount:          len(rozetkaOrders),
			KeycrmCount:           len(keycrmOrders),
			PairedCount:           len(pairs),
			UnmatchedRozetkaCount: len(unmatchedRozetka),
			UnmatchedKeycrmCount:  len(unmatchedKeycrm),
		},
	}
}

// FindPairByKeycrmHints 在已配对结果中按 KeyCRM 线索查找
func FindPairByKeycrmHints(result *MatchResult, hints *HintSet) *MatchPair {
	if result == nil || hints.Len() == 0 {
		return nil
	}

	for i := range result.Pairs {
		pair := &result.Pairs[i]
		if pair.KeycrmOrder == nil {
			continue
		}

		for _, field := range KeycrmHintFields {
			value, ok := FieldValue(pair.KeycrmOrder, field)
			if !ok {
				continue
			}
			if hints.Has(Stringify(value)) {
				return pair
			}
		}
	}

	return nil
}

// FindOrderByHints 在候选订单中按字段集与线索集求交
func FindOrderByHints(orders []OrderRecord, fields []string, hints *HintSet) OrderRecord {
	if hints.Len() == 0 {
		return nil
	}

	for _, order := range orders {
		if order == nil {
			continue
		}
		for _, field := range fields {
			value, ok := FieldValue(order, field)
			if !ok {
				continue
			}
			if hints.Has(Stringify(value)) {
				return order
			}
		}
	}

	return nil
}
