package statistics

import "sort"

// SpaceSaving APPROX_TOP_COUNT/SUM的重频元素草图
type SpaceSaving struct {
	capacity int
	counters map[string]*ssCounter
}

type ssCounter struct {
	key    string
	count  int64
	errors int64
}

// NewSpaceSaving 创建容量受限的计数器集
func NewSpaceSaving(capacity int) *SpaceSaving {
	if capacity < 1 {
		capacity = 1
	}
	return &SpaceSaving{capacity: capacity, counters: make(map[string]*ssCounter)}
}

// Offer 观测一个键，weight通常为1（TOP_SUM时为权重）
func (s *SpaceSaving) Offer(key string, weight int64) {
	if c, ok := s.counters[key]; ok {
		c.count += weight
		return
	}
	if len(s.counters) < s.capacity {
		s.counters[key] = &ssCounter{key: key, count: weight}
		return
	}
	// 替换最小计数项，继承其计数作为误差上界
	var min *ssCounter
	for _, c := range s.counters {
		if min == nil || c.count < min.count {
			min = c
		}
	}
	delete(s.counters, min.key)
	s.counters[key] = &ssCounter{key: key, count: min.count + weight, errors: min.count}
}

// TopEntry 一个高频项
type TopEntry struct {
	Key   string
	Count int64
}

// Top 前n个高频项，按计数降序
func (s *SpaceSaving) Top(n int) []TopEntry {
	all := make([]*ssCounter, 0, len(s.counters))
	for _, c := range s.counters {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].key < all[j].key
	})
	if n > len(all) {
		n = len(all)
	}
	out := make([]TopEntry, n)
	for i := 0; i < n; i++ {
		out[i] = TopEntry{Key: all[i].key, Count: all[i].count}
	}
	return out
}
