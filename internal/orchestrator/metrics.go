package orchestrator

// Metrics receives orchestrator observations; the zero value of Options uses a no-op.
type Metrics interface {
	PollTick(status string)
	PollSessionStopped(outcome string)
	ResultsLoaded(trees, dropped int, inconsistent bool)
}

type noopMetrics struct{}

func (noopMetrics) PollTick(string)              {}
func (noopMetrics) PollSessionStopped(string)    {}
func (noopMetrics) ResultsLoaded(int, int, bool) {}
