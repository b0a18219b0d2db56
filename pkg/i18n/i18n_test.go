package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLang(t *testing.T) {
	l := NewLocalizer("zh-CN", "en")

	assert.Equal(t, "Workspace not found", l.Get("en", ERROR_WORKSPACE_NOT_FOUND))
	assert.Equal(t, "工作空间不存在", l.Get("zh-CN", ERROR_WORKSPACE_NOT_FOUND))

	// unknown ids fall back to the id itself
	assert.Equal(t, "error.unknown", l.Get("en", "error.unknown"))
	assert.Equal(t, "error.internal", l.Get("fr", ERROR_INTERNAL))
}
