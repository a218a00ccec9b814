package statistics

import (
	"fmt"
	"testing"
)

func TestHyperLogLogEstimate(t *testing.T) {
	h := NewHyperLogLog()
	for i := 0; i < 10000; i++ {
		h.Insert([]byte(fmt.Sprintf("key-%d", i%1000)))
	}
	est := h.Estimate()
	if est < 950 || est > 1050 {
		t.Errorf("estimate = %d, want ~1000", est)
	}

	// 合并两个不相交集合
	a, b := NewHyperLogLog(), NewHyperLogLog()
	for i := 0; i < 500; i++ {
		a.Insert([]byte(fmt.Sprintf("a-%d", i)))
		b.Insert([]byte(fmt.Sprintf("b-%d", i)))
	}
	a.Merge(b)
	est = a.Estimate()
	if est < 900 || est > 1100 {
		t.Errorf("merged estimate = %d, want ~1000", est)
	}
}

func TestTDigestQuantiles(t *testing.T) {
	d := NewTDigest(100)
	for i := 1; i <= 10000; i++ {
		d.Add(float64(i))
	}
	median := d.Quantile(0.5)
	if median < 4500 || median > 5500 {
		t.Errorf("median = %f, want ~5000", median)
	}
	p99 := d.Quantile(0.99)
	if p99 < 9700 || p99 > 10000 {
		t.Errorf("p99 = %f, want ~9900", p99)
	}
	if d.Quantile(0) > d.Quantile(1) {
		t.Errorf("quantiles must be monotone")
	}
}

func TestSpaceSavingTop(t *testing.T) {
	s := NewSpaceSaving(10)
	for i := 0; i < 1000; i++ {
		s.Offer("hot", 1)
		if i%10 == 0 {
			s.Offer(fmt.Sprintf("cold-%d", i), 1)
		}
	}
	top := s.Top(1)
	if len(top) != 1 || top[0].Key != "hot" {
		t.Fatalf("top = %+v", top)
	}
	if top[0].Count < 1000 {
		t.Errorf("hot count = %d", top[0].Count)
	}
}
