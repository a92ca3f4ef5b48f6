package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("SM_BOOL", "yes")
	t.Setenv("SM_INT", "42")
	t.Setenv("SM_BAD_INT", "forty")
	t.Setenv("SM_DUR", "90s")
	t.Setenv("SM_SECS", "15")

	assert.True(t, GetEnvBool("SM_BOOL", false))
	assert.True(t, GetEnvBool("SM_UNSET_BOOL", true))
	assert.Equal(t, 42, GetEnvInt("SM_INT", 1))
	assert.Equal(t, 1, GetEnvInt("SM_BAD_INT", 1))
	assert.Equal(t, 90*time.Second, GetEnvDuration("SM_DUR", time.Hour))
	assert.Equal(t, 15*time.Second, GetEnvDuration("SM_SECS", time.Hour))
	assert.Equal(t, time.Hour, GetEnvDuration("SM_UNSET_DUR", time.Hour))
	assert.Equal(t, "fallback", GetEnv("SM_UNSET", "fallback"))
}
