package workflow

import (
	"context"

	"github.com/operon-dev/operon/internal/client"
)

// HTTPStep configures an HTTP-backed step action.
type HTTPStep struct {
	Method   string
	Endpoint string
	Headers  map[string]string
	Body     any
	// Extract is an optional jq selector applied to the response body; the
	// extracted value becomes the step output.
	Extract string
}

// NewHTTPAction builds a step action that performs an HTTP request through
// the resilient client. Retries, timeouts and cancellation follow the
// client's configuration; the parsed response body is the step output.
func NewHTTPAction(c *client.Client, step HTTPStep) Action {
	return func(ctx context.Context, wf *Workflow, st *Step) (any, error) {
		out, err := c.Request(ctx, step.Endpoint, client.RequestOptions{
			Method:  step.Method,
			Headers: step.Headers,
			Body:    step.Body,
			Extract: step.Extract,
		})
		if err != nil {
			return nil, err
		}
		if out == nil {
			return map[string]any{"ok": true}, nil
		}
		return out, nil
	}
}
