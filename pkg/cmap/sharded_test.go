// Package cmap provides a concurrent-safe sharded map.
package cmap

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestMap_BasicOperations(t *testing.T) {
	m := New[string, int]()

	m.Set("a", 1)
	m.Set("b", 2)

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if !m.Has("b") {
		t.Error("Has(b) = false, want true")
	}
	if m.Has("c") {
		t.Error("Has(c) = true, want false")
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}

	m.Delete("a")
	if m.Has("a") {
		t.Error("key a still present after Delete")
	}
}

func TestMap_Pop(t *testing.T) {
	m := New[string, string]()
	m.Set("k", "v")

	v, ok := m.Pop("k")
	if !ok || v != "v" {
		t.Errorf("Pop(k) = %q, %v; want v, true", v, ok)
	}
	if _, ok := m.Pop("k"); ok {
		t.Error("second Pop returned ok")
	}
}

func TestMap_GetOrSet(t *testing.T) {
	m := New[string, int]()

	v, existed := m.GetOrSet("x", 10)
	if existed || v != 10 {
		t.Errorf("GetOrSet first = %d, %v; want 10, false", v, existed)
	}

	v, existed = m.GetOrSet("x", 20)
	if !existed || v != 10 {
		t.Errorf("GetOrSet second = %d, %v; want 10, true", v, existed)
	}
}

func TestMap_Update(t *testing.T) {
	m := New[string, int]()

	got := m.Update("counter", func(v int, exists bool) int {
		if exists {
			t.Error("exists = true on first update")
		}
		return v + 1
	})
	if got != 1 {
		t.Errorf("Update = %d, want 1", got)
	}

	got = m.Update("counter", func(v int, exists bool) int { return v + 1 })
	if got != 2 {
		t.Errorf("Update = %d, want 2", got)
	}
}

func TestMap_RangeAndKeys(t *testing.T) {
	m := New[string, int]()
	for i := 0; i < 10; i++ {
		m.Set(fmt.Sprintf("key-%d", i), i)
	}

	seen := 0
	m.Range(func(_ string, _ int) bool {
		seen++
		return true
	})
	if seen != 10 {
		t.Errorf("Range visited %d entries, want 10", seen)
	}

	keys := m.Keys()
	if len(keys) != 10 {
		t.Fatalf("Keys() len = %d, want 10", len(keys))
	}
	sort.Strings(keys)
	if keys[0] != "key-0" {
		t.Errorf("keys[0] = %s, want key-0", keys[0])
	}
}

func TestMap_RangeEarlyStop(t *testing.T) {
	m := New[string, int]()
	for i := 0; i < 10; i++ {
		m.Set(fmt.Sprintf("key-%d", i), i)
	}

	seen := 0
	m.Range(func(_ string, _ int) bool {
		seen++
		return seen < 3
	})
	if seen != 3 {
		t.Errorf("Range visited %d entries after early stop, want 3", seen)
	}
}

func TestMap_Clear(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	m.Clear()
	if m.Count() != 0 {
		t.Errorf("Count() after Clear = %d, want 0", m.Count())
	}
}

func TestMap_ConcurrentAccess(t *testing.T) {
	m := New[string, int]()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i)
				m.Set(key, i)
				m.Get(key)
				if i%3 == 0 {
					m.Delete(key)
				}
			}
		}(g)
	}

	wg.Wait()

	// Each goroutine deletes 34 of its 100 keys.
	want := 8 * (100 - 34)
	if m.Count() != want {
		t.Errorf("Count() = %d, want %d", m.Count(), want)
	}
}

func TestNewWithShards_InvalidCount(t *testing.T) {
	// Non-power-of-2 falls back to the default.
	m := NewWithShards[string, int](7)
	if len(m.shards) != DefaultShardCount {
		t.Errorf("shard count = %d, want %d", len(m.shards), DefaultShardCount)
	}
}
