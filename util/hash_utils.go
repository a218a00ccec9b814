package util

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// HashString 字符串键Hash
func HashString(s string) uint64 {
	return xxhash.ChecksumString64(s)
}

// CombineHash 合并两个hash值，用于多列键
func CombineHash(h1, h2 uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], h1)
	binary.LittleEndian.PutUint64(buf[8:], h2)
	return HashCode(buf[:])
}

// RowHasher 增量行Hash器，供hash join与distinct按行构键
type RowHasher struct {
	h *xxhash.XXHash64
}

func NewRowHasher() *RowHasher {
	return &RowHasher{h: xxhash.New64()}
}

func (r *RowHasher) Reset() {
	r.h.Reset()
}

func (r *RowHasher) WriteBytes(b []byte) {
	r.h.Write(b)
}

func (r *RowHasher) WriteString(s string) {
	r.h.WriteString(s)
}

func (r *RowHasher) WriteUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	r.h.Write(buf[:])
}

func (r *RowHasher) Sum64() uint64 {
	return r.h.Sum64()
}
