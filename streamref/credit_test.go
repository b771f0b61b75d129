package streamref

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCreditWindow(t *testing.T) {
	window := &creditWindow{}

	assert.Equal(t, window.Take(), false)

	err := window.Grant(4)
	assert.Equal(t, err, nil)
	assert.Equal(t, window.Balance(), int64(4))

	for i := 0; i < 4; i += 1 {
		assert.Equal(t, window.Take(), true)
	}
	assert.Equal(t, window.Take(), false)
	assert.Equal(t, window.Balance(), int64(0))

	err = window.Grant(0)
	assert.Equal(t, err, nil)

	err = window.Grant(-1)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, window.Balance(), int64(0))
}

func TestDemandDelta(t *testing.T) {
	// fully committed window issues nothing
	assert.Equal(t, demandDelta(32, 32, 16), int64(0))
	assert.Equal(t, demandDelta(17, 32, 16), int64(0))

	// at or below the low-water mark the window refills to the batch size
	assert.Equal(t, demandDelta(16, 32, 16), int64(16))
	assert.Equal(t, demandDelta(1, 32, 16), int64(31))
	assert.Equal(t, demandDelta(0, 32, 16), int64(32))
}
