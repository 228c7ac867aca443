package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTitle(t *testing.T) {
	assert.Equal(t, "Quantum Tunneling", sanitizeTitle(`# Title: "Quantum Tunneling."`))
	assert.Equal(t, "Weather Forecast", sanitizeTitle("- Weather Forecast"))
}

func TestIsLowQuality(t *testing.T) {
	assert.True(t, isLowQuality(""))
	assert.True(t, isLowQuality("hi"))
	assert.True(t, isLowQuality(strings.ToLower("New Chat")))
	assert.False(t, isLowQuality("Quantum Tunneling Explained"))
}

func TestCapTitle(t *testing.T) {
	long := strings.Repeat("a", 150)
	capped := capTitle(long)
	assert.LessOrEqual(t, len(capped), titleMaxChars+len("…"))
}
