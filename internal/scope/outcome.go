package scope

import "net/http"

// Outcome is the terminal decision for a request scope.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeCommit
	OutcomeRollback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommit:
		return "commit"
	case OutcomeRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// OutcomeForStatus maps a final HTTP status to an outcome. Status 0 means
// the handler wrote nothing, which net/http answers with 200.
func OutcomeForStatus(status int) Outcome {
	if status == 0 || status < http.StatusBadRequest {
		return OutcomeCommit
	}
	return OutcomeRollback
}
