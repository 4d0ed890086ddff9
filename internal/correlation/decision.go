package correlation

import "github.com/alfredjeanlab/ailoop/internal/model"

// Decision is the outcome of an authorization request.
type Decision string

const (
	Approved Decision = "approved"
	Denied   Decision = "denied"
)

// DecisionOf interprets the result of awaiting an authorization. Only an
// explicit approval approves; timeouts, cancellation and any other answer
// deny.
func DecisionOf(resp *model.Message, err error) Decision {
	if err == nil && resp != nil && resp.Approved() {
		return Approved
	}
	return Denied
}
