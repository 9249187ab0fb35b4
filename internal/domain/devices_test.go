package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupDevice(t *testing.T) {
	d := LookupDevice("iPhone 12")
	assert.Equal(t, 390, d.Width)
	assert.Equal(t, 844, d.Height)
	assert.Equal(t, float64(3), d.Scale)

	d = LookupDevice("Pixel 5")
	assert.Equal(t, 2.75, d.Scale)
}

func TestLookupDeviceFallback(t *testing.T) {
	generic := LookupDevice("Nokia 3310")
	assert.Equal(t, 375, generic.Width)
	assert.Equal(t, 667, generic.Height)
	assert.Equal(t, float64(2), generic.Scale)

	// The empty name (mobile flag only) also gets the generic profile.
	assert.Equal(t, generic, LookupDevice(""))
}
