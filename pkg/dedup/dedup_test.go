package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcessFirstDeliveryOnly(t *testing.T) {
	d := New(10*time.Minute, 100)

	id := Key([]byte(`{"request_id":"abc"}`))
	assert.True(t, d.ShouldProcess(id))
	assert.False(t, d.ShouldProcess(id))

	// A different payload is independent.
	assert.True(t, d.ShouldProcess(Key([]byte(`{"request_id":"def"}`))))
}

func TestShouldProcessAfterTTLExpiry(t *testing.T) {
	d := New(10*time.Minute, 100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	id := Key([]byte("payload"))
	assert.True(t, d.ShouldProcess(id))

	now = now.Add(5 * time.Minute)
	assert.False(t, d.ShouldProcess(id))

	now = now.Add(6 * time.Minute)
	assert.True(t, d.ShouldProcess(id))
}

func TestShouldProcessEmptyKeyAlwaysPasses(t *testing.T) {
	d := New(time.Minute, 10)
	assert.True(t, d.ShouldProcess(""))
	assert.True(t, d.ShouldProcess(""))
}

func TestKeyIsStable(t *testing.T) {
	assert.Equal(t, Key([]byte("x")), Key([]byte("x")))
	assert.NotEqual(t, Key([]byte("x")), Key([]byte("y")))
}
