package domain

// DetectionOutcome is the terminal report the remote detection job publishes for a survey.
type DetectionOutcome struct {
	SurveyID     string       `json:"survey_id"`
	Status       SurveyStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Trees        []RawRecord  `json:"trees,omitempty"`
	Summary      RawRecord    `json:"summary,omitempty"`
}

// DetectionRequest asks the remote job to process a stored survey image.
type DetectionRequest struct {
	SurveyID    string `json:"survey_id"`
	FieldID     string `json:"field_id"`
	StoragePath string `json:"storage_path"`
	Filename    string `json:"filename"`
}
