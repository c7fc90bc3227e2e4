package models

// RunResult is what a caller sees at the end of a run. Status is one of the
// consts.Status* values; ReasonCode is machine readable.
type RunResult struct {
	RunID      string           `json:"run_id"`
	Subject    string           `json:"subject"`
	AsOfDate   string           `json:"as_of_date"`
	Status     string           `json:"status"`
	ReasonCode string           `json:"reason_code,omitempty"`
	Error      string           `json:"error,omitempty"`
	Resumed    bool             `json:"resumed,omitempty"`
	Decision   *Decision        `json:"decision,omitempty"`
	Execution  *ExecutionResult `json:"execution,omitempty"`
	Degraded   []string         `json:"degraded,omitempty"`
	State      *RunState        `json:"-"`
}
