package eval

import "fmt"

// EvaluationError reports that a pipeline stage failed or produced no
// output. The scheduler converts it into the sentinel error value.
type EvaluationError struct {
	CandidateID int
	Stage       string
	Err         error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of candidate %d failed in stage %s: %v", e.CandidateID, e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// ResultParseError reports a malformed or incomplete result table.
type ResultParseError struct {
	Path   string
	Reason string
}

func (e *ResultParseError) Error() string {
	return "result parse error: " + e.Path + ": " + e.Reason
}
