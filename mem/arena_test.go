// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package mem

import (
	"slices"
	"testing"
)

func TestArenaAllocate(t *testing.T) {
	a := NewArena()

	p := Make(a, 42)
	if *p != 42 {
		t.Errorf("Make returned pointer to %d, want 42", *p)
	}

	type pair struct{ x, y int }
	q := New[pair](a)
	if *q != (pair{}) {
		t.Errorf("New returned non-zeroed value %v", *q)
	}

	// Values must survive later allocations.
	for i := 0; i < 10_000; i++ {
		Make(a, i)
	}
	if *p != 42 {
		t.Errorf("value changed to %d after further allocations", *p)
	}
}

func TestArenaSlices(t *testing.T) {
	a := NewArena()

	s := NewSlice[[]int](a, 3, 8)
	if len(s) != 3 || cap(s) < 8 {
		t.Fatalf("NewSlice returned len=%d cap=%d, want len=3 cap>=8", len(s), cap(s))
	}

	s = Append(a, s, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	want := []int{0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if !slices.Equal(s, want) {
		t.Errorf("after Append: %v, want %v", s, want)
	}

	c := MakeSlice(a, []string{"a", "b"})
	if !slices.Equal(c, []string{"a", "b"}) {
		t.Errorf("MakeSlice returned %v", c)
	}
}

func TestArenaReset(t *testing.T) {
	a := NewArena()
	Make(a, 7)
	a.Reset()
	p := New[int](a)
	if *p != 0 {
		t.Errorf("allocation after Reset not zeroed: %d", *p)
	}
}

func TestArenaPointerTypes(t *testing.T) {
	a := NewArena()
	type node struct {
		name string
		next *node
	}
	first := Make(a, node{name: "first"})
	// Enough nodes to spill into multiple slabs.
	for range 100_000 {
		Make(a, node{name: "other", next: first})
	}
	if first.name != "first" {
		t.Errorf("value changed to %q after further allocations", first.name)
	}
	a.Reset()
	p := New[node](a)
	if p.name != "" || p.next != nil {
		t.Errorf("allocation after Reset not zeroed: %+v", *p)
	}
}

func TestBinaryTreeMap(t *testing.T) {
	a := NewArena()
	var m BinaryTreeMap[uint64, string]

	keys := []uint64{5, 1, 9, 3, 7, 2, 8}
	for _, k := range keys {
		m.Insert(a, k, "v")
	}
	m.Insert(a, 5, "replaced")

	if v, ok := m.Get(5); !ok || v != "replaced" {
		t.Errorf("Get(5) = %q, %v; want \"replaced\", true", v, ok)
	}
	if _, ok := m.Get(4); ok {
		t.Error("Get(4) found a key that was never inserted")
	}

	var got []uint64
	for k := range m.Keys() {
		got = append(got, k)
	}
	if !slices.IsSorted(got) {
		t.Errorf("Keys not sorted: %v", got)
	}
	if len(got) != len(keys) {
		t.Errorf("map has %d keys, want %d", len(got), len(keys))
	}

	if !m.Delete(3) {
		t.Error("Delete(3) reported missing key")
	}
	if _, ok := m.Get(3); ok {
		t.Error("Get(3) succeeded after Delete")
	}
	if m.Delete(3) {
		t.Error("second Delete(3) reported success")
	}
}
