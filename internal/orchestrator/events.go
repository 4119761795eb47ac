package orchestrator

type EventKind string

const (
	EventSurveysUpdated   EventKind = "surveys_updated"
	EventSelectionChanged EventKind = "selection_changed"
	EventSurveyUpdated    EventKind = "survey_updated"
	EventPollingStarted   EventKind = "polling_started"
	EventPollingStopped   EventKind = "polling_stopped"
	EventProcessingSlow   EventKind = "processing_slow"
	EventResultsLoaded    EventKind = "results_loaded"
	EventResultsFailed    EventKind = "results_failed"
	EventError            EventKind = "error"
)

// Event notifies the presentation layer that orchestrator state changed; read the new
// state with Snapshot.
type Event struct {
	Kind     EventKind
	SurveyID string
	Err      error
}
