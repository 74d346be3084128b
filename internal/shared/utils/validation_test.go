package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("1700000000000", "id", true))
	assert.NoError(t, ValidateID("", "id", false))
	assert.Error(t, ValidateID("", "id", true))
	assert.Error(t, ValidateID("a.b", "id", true))
	assert.Error(t, ValidateID(strings.Repeat("a", MaxIDLength+1), "id", true))
}

func TestValidateFileID(t *testing.T) {
	tests := []struct {
		fileID string
		ok     bool
	}{
		{"1700000000000", true},
		{"session-1700000000000.json", true},
		{"", false},
		{"../sessions.json", false},
		{"a/b", false},
		{"x\x00y", false},
	}
	for _, tt := range tests {
		err := ValidateFileID(tt.fileID)
		if tt.ok {
			assert.NoError(t, err, tt.fileID)
		} else {
			assert.Error(t, err, tt.fileID)
		}
	}
}

func TestValidateTitle(t *testing.T) {
	assert.NoError(t, ValidateTitle("My Adventure"))
	assert.Error(t, ValidateTitle(""))
	assert.Error(t, ValidateTitle("   \t"))
	assert.Error(t, ValidateTitle(strings.Repeat("x", MaxTitleLength+1)))
}

func TestValidateFileName(t *testing.T) {
	assert.NoError(t, ValidateFileName("cover"))
	assert.Error(t, ValidateFileName(""))
	assert.Error(t, ValidateFileName("../cover"))
}

func TestJSONSizeValidator(t *testing.T) {
	v := NewJSONSizeValidator(16)

	assert.NoError(t, v.ValidateJSON([]byte(`{"a":1}`)))
	assert.Error(t, v.ValidateJSON([]byte(`{"a":`)))
	assert.Error(t, v.ValidateSize([]byte(strings.Repeat("x", 17))))
}

func TestHasherETag(t *testing.T) {
	h := DefaultHasher()

	tag := h.ETag([]byte("image"))
	assert.Len(t, tag, 34)
	assert.Equal(t, tag, h.ETag([]byte("image")))
	assert.NotEqual(t, tag, h.ETag([]byte("other")))
}
