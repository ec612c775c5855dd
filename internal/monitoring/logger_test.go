package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("scanner %s", "connected")
	assert.Equal(t, []string{"scanner connected"}, *lines)
}

func TestSetLogger_Nil(t *testing.T) {
	lines := capture(t)
	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("dropped %d", 1) })
	assert.Empty(t, *lines)
}

func TestPrefixed(t *testing.T) {
	lines := capture(t)
	logf := Prefixed("[scanner] ")
	logf("status %s", "no_paper")

	// A logger installed later is still used.
	var late []string
	SetLogger(func(format string, v ...interface{}) {
		late = append(late, fmt.Sprintf(format, v...))
	})
	logf("status %s", "ready_to_scan")

	assert.Equal(t, []string{"[scanner] status no_paper"}, *lines)
	assert.Equal(t, []string{"[scanner] status ready_to_scan"}, late)
}

func TestLogf_Default(t *testing.T) {
	assert.NotNil(t, Logf)
}
