package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Payload size limits (in bytes)
const (
	MaxJSONSize         = 25 * 1024 * 1024 // 25MB - upload bodies carry base64 images
	MaxSessionSize      = 8 * 1024 * 1024  // 8MB - a single session document
	MaxStreamFrameSize  = 1 * 1024 * 1024  // 1MB - one editor websocket frame
	MaxChatMessageSize  = 64 * 1024        // 64KB - single chat turn
	MaxChatHistoryCount = 2000
)

// String length limits
const (
	MaxIDLength       = 128
	MaxFileIDLength   = 256
	MaxTitleLength    = 256
	MaxFileNameLength = 128
)

// Regular expressions for validation
var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// FileIDPattern also allows dots, for backend keys like session-<id>.json
	FileIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// JSONSizeValidator validates JSON size limits
type JSONSizeValidator struct {
	maxSize int
}

// NewJSONSizeValidator creates a new validator with the specified max size
func NewJSONSizeValidator(maxSize int) *JSONSizeValidator {
	return &JSONSizeValidator{maxSize: maxSize}
}

// DefaultJSONValidator returns a validator with the default upload limit
func DefaultJSONValidator() *JSONSizeValidator {
	return NewJSONSizeValidator(MaxJSONSize)
}

// ValidateSize checks if data exceeds the size limit
func (v *JSONSizeValidator) ValidateSize(data []byte) error {
	if len(data) > v.maxSize {
		return fmt.Errorf("payload size %d bytes exceeds limit of %d bytes", len(data), v.maxSize)
	}
	return nil
}

// ValidateJSON checks both size and that data is well-formed JSON
func (v *JSONSizeValidator) ValidateJSON(data []byte) error {
	if err := v.ValidateSize(data); err != nil {
		return err
	}
	if !sonic.Valid(data) {
		return fmt.Errorf("invalid JSON payload")
	}
	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil // Optional field, empty is OK
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	// Check for null bytes (security issue)
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates a session ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidateFileID validates a backend file ID. Dots are allowed but never a
// parent-directory reference.
func ValidateFileID(fileID string) error {
	if err := ValidateString(fileID, "fileId", 1, MaxFileIDLength, true); err != nil {
		return err
	}
	if !FileIDPattern.MatchString(fileID) || strings.Contains(fileID, "..") {
		return fmt.Errorf("fileId contains invalid characters (only alphanumeric, dots, hyphens, and underscores allowed)")
	}
	return nil
}

// ValidateTitle validates a story title; whitespace-only titles are rejected
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}
	return ValidateString(title, "title", 1, MaxTitleLength, true)
}

// ValidateFileName validates the readable prefix of an uploaded image name
func ValidateFileName(name string) error {
	if err := ValidateString(name, "fileName", 1, MaxFileNameLength, true); err != nil {
		return err
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("fileName must not contain path separators")
	}
	return nil
}

// ValidateChatMessage validates one chat turn's content
func ValidateChatMessage(content string) error {
	return ValidateString(content, "message", 0, MaxChatMessageSize, false)
}
