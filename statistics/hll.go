package statistics

import (
	"math"

	"github.com/zhukovaskychina/yachtsql/util"
)

// HyperLogLog APPROX_COUNT_DISTINCT的基数草图。
// 固定2^12个寄存器，标准误差约1.6%
type HyperLogLog struct {
	registers []uint8
	p         uint8
}

const hllPrecision = 12

// NewHyperLogLog 创建空草图
func NewHyperLogLog() *HyperLogLog {
	return &HyperLogLog{registers: make([]uint8, 1<<hllPrecision), p: hllPrecision}
}

// InsertHash 插入一个已Hash的元素
func (h *HyperLogLog) InsertHash(hash uint64) {
	idx := hash >> (64 - h.p)
	rest := hash<<h.p | 1<<(h.p-1)
	rank := uint8(1)
	for rest&(1<<63) == 0 {
		rank++
		rest <<= 1
	}
	if rank > h.registers[idx] {
		h.registers[idx] = rank
	}
}

// Insert 插入原始字节键
func (h *HyperLogLog) Insert(key []byte) {
	h.InsertHash(util.HashCode(key))
}

// Merge 合并另一草图
func (h *HyperLogLog) Merge(other *HyperLogLog) {
	for i, r := range other.registers {
		if r > h.registers[i] {
			h.registers[i] = r
		}
	}
}

// Estimate 基数估计，带小基数线性计数修正
func (h *HyperLogLog) Estimate() uint64 {
	m := float64(len(h.registers))
	sum := 0.0
	zeros := 0
	for _, r := range h.registers {
		sum += 1 / float64(uint64(1)<<r)
		if r == 0 {
			zeros++
		}
	}
	alpha := 0.7213 / (1 + 1.079/m)
	est := alpha * m * m / sum
	if est <= 2.5*m && zeros > 0 {
		est = m * math.Log(m/float64(zeros))
	}
	return uint64(est + 0.5)
}
