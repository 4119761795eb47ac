package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// MaxUploadBytes is the largest survey image accepted (500 MiB).
const MaxUploadBytes int64 = 500 << 20

var AllowedUploadExtensions = []string{".tif", ".tiff"}

type ValidationRule string

const (
	RuleBadExtension   ValidationRule = "bad_extension"
	RuleTooLarge       ValidationRule = "too_large"
	RuleEmptyFile      ValidationRule = "empty_file"
	RuleMissingField   ValidationRule = "missing_field"
	RuleBadCaptureDate ValidationRule = "bad_capture_date"
	RuleUnknownSize    ValidationRule = "unknown_size"
)

// ValidationError names the specific upload rule a candidate file violated.
type ValidationError struct {
	Rule    ValidationRule
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// UploadCandidate describes a file offered for upload before it is transferred.
type UploadCandidate struct {
	FieldID     string
	Filename    string
	SizeBytes   int64
	CaptureDate string
	Source      string
}

// Validate checks the candidate against the upload rules. maxBytes <= 0 selects MaxUploadBytes.
func (c UploadCandidate) Validate(maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = MaxUploadBytes
	}
	if strings.TrimSpace(c.FieldID) == "" {
		return &ValidationError{Rule: RuleMissingField, Message: "field id is required"}
	}
	ext := strings.ToLower(filepath.Ext(c.Filename))
	allowed := false
	for _, candidate := range AllowedUploadExtensions {
		if ext == candidate {
			allowed = true
			break
		}
	}
	if !allowed {
		return &ValidationError{
			Rule:    RuleBadExtension,
			Message: fmt.Sprintf("file %q must be a GeoTIFF (%s)", c.Filename, strings.Join(AllowedUploadExtensions, ", ")),
		}
	}
	if c.SizeBytes > maxBytes {
		return &ValidationError{
			Rule:    RuleTooLarge,
			Message: fmt.Sprintf("file is %d bytes, limit is %d bytes", c.SizeBytes, maxBytes),
		}
	}
	if c.SizeBytes == 0 {
		return &ValidationError{Rule: RuleEmptyFile, Message: "file is empty"}
	}
	if c.CaptureDate != "" {
		if _, err := time.Parse(time.DateOnly, c.CaptureDate); err != nil {
			return &ValidationError{
				Rule:    RuleBadCaptureDate,
				Message: fmt.Sprintf("capture date %q must be YYYY-MM-DD", c.CaptureDate),
			}
		}
	}
	return nil
}
