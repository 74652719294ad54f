package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryGetSet(t *testing.T) {
	c := NewMemory(time.Minute, time.Minute)
	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestMemoryExpires(t *testing.T) {
	c := NewMemory(10*time.Millisecond, time.Minute)
	c.Set("a", "x")
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestKeyIsLengthPrefixed(t *testing.T) {
	assert.NotEqual(t, Key("ns", "ab", "c"), Key("ns", "a", "bc"))
	assert.Equal(t, Key("ns", "a", "b"), Key("ns", "a", "b"))
	assert.NotEqual(t, Key("x", "a"), Key("y", "a"))
}

func TestTypedConcurrentAccess(t *testing.T) {
	typed := NewTyped[string](NewMemory(time.Minute, time.Minute))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			typed.Set("k", "v")
			_, _ = typed.Get("k")
		}()
	}
	wg.Wait()
	v, ok := typed.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	var nilTyped Typed[int]
	_, ok = nilTyped.Get("k")
	assert.False(t, ok)
}
