package domain

import (
	"errors"
	"testing"
)

func TestUploadCandidateValidate(t *testing.T) {
	cases := []struct {
		name      string
		candidate UploadCandidate
		rule      ValidationRule
	}{
		{name: "tif accepted", candidate: UploadCandidate{FieldID: "f", Filename: "a.tif", SizeBytes: 10 << 20}},
		{name: "upper case tiff accepted", candidate: UploadCandidate{FieldID: "f", Filename: "A.TIFF", SizeBytes: 1}},
		{name: "exact limit accepted", candidate: UploadCandidate{FieldID: "f", Filename: "a.tif", SizeBytes: MaxUploadBytes}},
		{name: "unknown size accepted", candidate: UploadCandidate{FieldID: "f", Filename: "a.tif", SizeBytes: -1}},
		{name: "png rejected", candidate: UploadCandidate{FieldID: "f", Filename: "a.png", SizeBytes: 1}, rule: RuleBadExtension},
		{name: "no extension rejected", candidate: UploadCandidate{FieldID: "f", Filename: "tif", SizeBytes: 1}, rule: RuleBadExtension},
		{name: "oversize rejected", candidate: UploadCandidate{FieldID: "f", Filename: "a.tif", SizeBytes: MaxUploadBytes + 1}, rule: RuleTooLarge},
		{name: "empty rejected", candidate: UploadCandidate{FieldID: "f", Filename: "a.tif"}, rule: RuleEmptyFile},
		{name: "field required", candidate: UploadCandidate{Filename: "a.tif", SizeBytes: 1}, rule: RuleMissingField},
		{name: "bad capture date", candidate: UploadCandidate{FieldID: "f", Filename: "a.tif", SizeBytes: 1, CaptureDate: "03/01/2024"}, rule: RuleBadCaptureDate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.candidate.Validate(0)
			if tc.rule == "" {
				if err != nil {
					t.Fatalf("expected valid candidate, got %v", err)
				}
				return
			}
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if validationErr.Rule != tc.rule {
				t.Fatalf("expected rule %s, got %s", tc.rule, validationErr.Rule)
			}
			if !IsKind(err, ErrInvalidInput) {
				t.Fatalf("expected validation error to match ErrInvalidInput")
			}
		})
	}
}

func TestSurveyNormalizeEnforcesStatusInvariants(t *testing.T) {
	count := 3
	s := Survey{Status: SurveyPending, ErrorMessage: "boom", TreeCount: &count}
	s.Normalize()
	if s.ErrorMessage != "" || s.HasSummary() {
		t.Fatalf("pending survey must drop error and summary, got %+v", s)
	}

	s = Survey{Status: SurveyFailed, ErrorMessage: "boom", TreeCount: &count}
	s.Normalize()
	if s.ErrorMessage != "boom" || s.HasSummary() {
		t.Fatalf("failed survey keeps error only, got %+v", s)
	}

	s = Survey{Status: SurveyFailed, ErrorMessage: "  "}
	s.Normalize()
	if s.ErrorMessage != DefaultFailureMessage {
		t.Fatalf("failed survey without reason must get %q, got %q", DefaultFailureMessage, s.ErrorMessage)
	}
}
