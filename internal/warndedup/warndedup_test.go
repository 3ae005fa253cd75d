package warndedup

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWarnOnceFiresOnceForSameKey(t *testing.T) {
	d := New()
	assert.False(t, d.Seen("k1"))

	d.WarnOnce("k1", "first")
	assert.True(t, d.Seen("k1"))
	assert.Equal(t, 1, d.Count())

	d.WarnOnce("k1", "second call, should not print again")
	assert.Equal(t, 1, d.Count())
}

func TestWarnOnceDistinctKeysBothFire(t *testing.T) {
	d := New()
	d.WarnOnce("a", "msg a")
	d.WarnOnce("b", "msg b")
	assert.Equal(t, 2, d.Count())
}

func TestWarnOnceConcurrentSameKeyFiresOnce(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.WarnOnce("race", "concurrent warning")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, d.Count())
}
