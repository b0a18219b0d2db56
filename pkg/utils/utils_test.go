package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSHA256Hex(t *testing.T) {
	assert.Equal(t, SHA256Hex("abc"), SHA256Hex("abc"))
	assert.NotEqual(t, SHA256Hex("abc"), SHA256Hex("abd"))
	assert.Len(t, SHA256Hex(""), 64)
}

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "a\nb", NormalizeContent("a  \r\nb\t\n"))
	assert.Equal(t, NormalizeContent("hello\nworld"), NormalizeContent("hello  \nworld\n\n"))
}

func TestParseAcceptLanguage(t *testing.T) {
	langs := ParseAcceptLanguage("zh-CN,zh;q=0.9,en;q=0.8")
	assert.Equal(t, "zh-CN", langs[0].Tag)
	assert.Equal(t, "en", langs[len(langs)-1].Tag)
	assert.Empty(t, ParseAcceptLanguage(""))
}
