package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFields(t *testing.T) {
	s := Fields("  EGL_EXT_platform_base EGL_KHR_platform_gbm\nEGL_MESA_platform_gbm ")
	assert.Len(t, s, 3)
	assert.True(t, s.Has("EGL_KHR_platform_gbm"))
	assert.True(t, s.Has("EGL_MESA_platform_gbm"))
	assert.False(t, s.Has(""))
	assert.Empty(t, Fields(""))
}
