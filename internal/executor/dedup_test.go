package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup_FirstSightPassesRepeatsBlock(t *testing.T) {
	d := NewDedup(time.Minute)
	assert.False(t, d.Seen("sig-1"))
	assert.True(t, d.Seen("sig-1"))
	assert.False(t, d.Seen("sig-2"))
}

func TestDedup_EntryExpires(t *testing.T) {
	now := time.Now()
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.Seen("sig-1"))
	now = now.Add(61 * time.Second)
	assert.False(t, d.Seen("sig-1"), "an expired entry is a fresh sighting")
}

func TestDedup_SweepReclaimsExpired(t *testing.T) {
	now := time.Now()
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	d.Seen("sig-1")
	d.Seen("sig-2")
	assert.Equal(t, 0, d.Sweep())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, d.Sweep())
	assert.False(t, d.Seen("sig-1"))
}
