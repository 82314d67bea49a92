package utils_test

import (
	"testing"

	"translator-backend/internal/core/utils"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"collapse whitespace", "  Hello \n\n  World\t", "Hello World"},
		{"already normal", "bonjour", "bonjour"},
		{"empty", "   ", ""},
		{"case kept", "ÉCOLE  Été", "ÉCOLE Été"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, utils.NormalizeText(tc.text))
		})
	}
}

func TestTextLengthCountsCharacters(t *testing.T) {
	assert.Equal(t, 5, utils.TextLength("héllo"))
	assert.Equal(t, 2, utils.TextLength("日本"))
	assert.Equal(t, 0, utils.TextLength(""))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", utils.Preview("short", 10))
	assert.Equal(t, "été ...", utils.Preview("été à la plage", 4))
}
