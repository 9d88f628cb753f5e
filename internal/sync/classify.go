package sync

import "net/http"

// Outcome is the fate decided for one executed action.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeConflict  Outcome = "conflict"
	OutcomeRejected  Outcome = "rejected"
	OutcomeRetry     Outcome = "retry"
	OutcomeExhausted Outcome = "exhausted"
)

// Classify maps an execution result to an outcome. Transient failures are
// reported as OutcomeRetry; the engine turns them into OutcomeExhausted once
// the budget is spent.
//
//	2xx                 success
//	409                 conflict, already applied
//	other 4xx           rejected
//	5xx, error, other   retry
func Classify(status int, err error) Outcome {
	if err != nil {
		return OutcomeRetry
	}
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusConflict:
		return OutcomeConflict
	case status >= 400 && status < 500:
		return OutcomeRejected
	default:
		return OutcomeRetry
	}
}
