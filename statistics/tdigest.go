package statistics

import (
	"math"
	"sort"
)

// TDigest APPROX_QUANTILES的分位草图。质心合并按压缩参数限制规模
type TDigest struct {
	compression float64
	centroids   []centroid
	unmerged    []centroid
	count       float64
}

type centroid struct {
	mean  float64
	count float64
}

// NewTDigest 创建草图；compression越大越精确
func NewTDigest(compression float64) *TDigest {
	if compression < 20 {
		compression = 20
	}
	return &TDigest{compression: compression}
}

// Add 插入一个观测值
func (t *TDigest) Add(x float64) {
	t.unmerged = append(t.unmerged, centroid{mean: x, count: 1})
	t.count++
	if len(t.unmerged) > int(t.compression)*4 {
		t.compress()
	}
}

// Merge 合并另一草图
func (t *TDigest) Merge(other *TDigest) {
	other.compress()
	for _, c := range other.centroids {
		t.unmerged = append(t.unmerged, c)
		t.count += c.count
	}
	t.compress()
}

func (t *TDigest) compress() {
	if len(t.unmerged) == 0 {
		return
	}
	all := append(t.centroids, t.unmerged...)
	t.centroids = nil
	t.unmerged = nil
	sort.Slice(all, func(i, j int) bool { return all[i].mean < all[j].mean })

	var out []centroid
	cum := 0.0
	for _, c := range all {
		if len(out) > 0 {
			last := &out[len(out)-1]
			q := (cum + last.count/2) / t.count
			limit := 4 * t.count * q * (1 - q) / t.compression
			if last.count+c.count <= math.Max(limit, 1) {
				last.mean = (last.mean*last.count + c.mean*c.count) / (last.count + c.count)
				last.count += c.count
				continue
			}
			cum += last.count
		}
		out = append(out, c)
	}
	t.centroids = out
}

// Quantile 估计q分位（0<=q<=1）
func (t *TDigest) Quantile(q float64) float64 {
	t.compress()
	if len(t.centroids) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return t.centroids[0].mean
	}
	if q >= 1 {
		return t.centroids[len(t.centroids)-1].mean
	}
	target := q * t.count
	cum := 0.0
	for i, c := range t.centroids {
		if cum+c.count >= target {
			if i == 0 {
				return c.mean
			}
			prev := t.centroids[i-1]
			frac := (target - cum) / c.count
			return prev.mean + (c.mean-prev.mean)*frac
		}
		cum += c.count
	}
	return t.centroids[len(t.centroids)-1].mean
}
