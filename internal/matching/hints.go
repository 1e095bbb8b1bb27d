package matching

import (
	"reflect"
	"sort"
)

// HintSet 保序字符串集合（插入序遍历，对齐线索尝试顺序）
type HintSet struct {
	values []string
	index  map[string]struct{}
}

// NewHintSet 创建空集合
func NewHintSet(values ...string) *HintSet {
	set := &HintSet{index: make(map[string]struct{})}
	for _, value := range values {
		set.Add(value)
	}
	return set
}

// Add 加入一个值（重复忽略）
func (s *HintSet) Add(value string) {
	if _, ok := s.index[value]; ok {
		return
	}
	s.index[value] = struct{}{}
	s.values = append(s.values, value)
}

// Has 判断包含
func (s *HintSet) Has(value string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[value]
	return ok
}

// Len 集合大小
func (s *HintSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Values 按插入序返回副本
func (s *HintSet) Values() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.values))
	copy(out, s.values)
	return out
}

// Merge 合并其他集合（保持插入序）
func (s *HintSet) Merge(others ...*HintSet) *HintSet {
	for _, other := range others {
		if other == nil {
			continue
		}
		for _, value := range other.values {
			s.Add(value)
		}
	}
	return s
}

// CollectHints 从任意嵌套记录中递归收集候选标识值
// 先取自身匹配字段，再下钻嵌套对象/数组，最多 depth 层；
// visited 集合按对象身份（指针）判重，容忍自引用结构
func CollectHints(record OrderRecord, fields []string, depth int) *HintSet {
	hints := NewHintSet()
	if record == nil {
		return hints
	}

	visited := make(map[uintptr]struct{})
	for _, value := range collectFieldValuesDeep(map[string]interface{}(record), fields, depth, visited) {
		if str := Stringify(value); str != "" {
			hints.Add(str)
		}
	}
	return hints
}

func collectFieldValuesDeep(node interface{}, fields []string, depth int, visited map[uintptr]struct{}) []interface{} {
	if depth < 0 || node == nil {
		return nil
	}

	switch rec := node.(type) {
	case map[string]interface{}:
		ptr := reflect.ValueOf(rec).Pointer()
		if _, seen := visited[ptr]; seen {
			return nil
		}
		visited[ptr] = struct{}{}

		var values []interface{}
		for _, field := range fields {
			if value, ok := rec[field]; ok && value != nil {
				values = append(values, value)
			}
		}

		if depth == 0 {
			return values
		}

		// 嵌套键按字典序下钻，保证线索顺序稳定
		keys := make([]string, 0, len(rec))
		for key, value := range rec {
			if isContainer(value) {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			values = append(values, collectFieldValuesDeep(rec[key], fields, depth-1, visited)...)
		}
		return values

	case []interface{}:
		ptr := reflect.ValueOf(rec).Pointer()
		if _, seen := visited[ptr]; seen {
			return nil
		}
		visited[ptr] = struct{}{}

		if depth == 0 {
			return nil
		}

		var values []interface{}
		for _, value := range rec {
			if isContainer(value) {
				values = append(values, collectFieldValuesDeep(value, fields, depth-1, visited)...)
			}
		}
		return values
	}

	return nil
}

func isContainer(value interface{}) bool {
	switch value.(type) {
	case map[string]interface{}, []interface{}:
		return true
	}
	return false
}
