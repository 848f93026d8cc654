package utils_test

import (
	"testing"
	"time"

	"github.com/joinguard/joinguard/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLMapSetAndGet(t *testing.T) {
	t.Parallel()

	m := utils.NewTTLMap[string, int](time.Minute)
	m.Set("a", 1)

	value, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, value)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestTTLMapExpiry(t *testing.T) {
	t.Parallel()

	m := utils.NewTTLMap[string, int](time.Minute)
	m.SetWithTTL("a", 1, 10*time.Millisecond)

	_, ok := m.Get("a")
	require.True(t, ok)

	time.Sleep(25 * time.Millisecond)

	_, ok = m.Get("a")
	assert.False(t, ok, "entry must expire after its TTL")
}

func TestTTLMapDelete(t *testing.T) {
	t.Parallel()

	m := utils.NewTTLMap[string, int](time.Minute)
	m.Set("a", 1)
	m.Delete("a")

	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestTTLMapConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := utils.NewTTLMap[int, int](time.Minute)

	done := make(chan struct{})
	for i := range 8 {
		go func(offset int) {
			defer func() { done <- struct{}{} }()
			for j := range 100 {
				m.Set(offset*100+j, j)
				m.Get(offset * 100)
			}
		}(i)
	}

	for range 8 {
		<-done
	}
}
