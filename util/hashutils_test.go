package util

import "testing"

func TestHashCode(t *testing.T) {
	a := HashCode([]byte("hello"))
	b := HashCode([]byte("hello"))
	if a != b {
		t.Errorf("HashCode not deterministic: %d != %d", a, b)
	}
	if HashCode([]byte("hello")) == HashCode([]byte("world")) {
		t.Errorf("different keys should not collide")
	}
	if HashString("hello") != a {
		t.Errorf("HashString should match HashCode on same bytes")
	}
}

func TestRowHasher(t *testing.T) {
	h := NewRowHasher()
	h.WriteString("a")
	h.WriteUint64(42)
	first := h.Sum64()

	h.Reset()
	h.WriteString("a")
	h.WriteUint64(42)
	if h.Sum64() != first {
		t.Errorf("reset + same input should reproduce the hash")
	}

	h.Reset()
	h.WriteString("b")
	h.WriteUint64(42)
	if h.Sum64() == first {
		t.Errorf("different input should change the hash")
	}
}

func TestBitmap(t *testing.T) {
	b := NewBitmap(100)
	if b.Len() != 100 || b.Get(63) || b.Get(64) {
		t.Fatalf("fresh bitmap should be clear")
	}
	b.Set(63)
	b.Set(64)
	if !b.Get(63) || !b.Get(64) || b.Get(62) {
		t.Errorf("set/get across word boundary")
	}
	b.Clear(63)
	if b.Get(63) {
		t.Errorf("clear failed")
	}
	if b.CountSet() != 1 {
		t.Errorf("CountSet = %d", b.CountSet())
	}

	var app Bitmap
	appended := &app
	for i := 0; i < 70; i++ {
		appended.AppendBit(i%3 == 0)
	}
	if appended.Len() != 70 {
		t.Errorf("append len = %d", appended.Len())
	}
	if !appended.Get(69) || appended.Get(68) {
		t.Errorf("append bits wrong")
	}

	clone := appended.Clone()
	clone.Set(1)
	if appended.Get(1) {
		t.Errorf("clone should not alias")
	}
}
