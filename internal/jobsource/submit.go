package jobsource

import (
	"context"
	"fmt"
	"net/http"
)

type submitRequest struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Submit posts a new job and returns the id reported by the API.
// Both {"job_id": ...} and {"id": ...} responses are accepted.
func (c *Client) Submit(ctx context.Context, taskType string, params map[string]interface{}) (string, error) {
	var response map[string]interface{}
	if err := c.do(ctx, http.MethodPost, c.submitPath, submitRequest{Type: taskType, Params: params}, &response); err != nil {
		return "", fmt.Errorf("failed to submit %s job: %w", taskType, err)
	}

	for _, field := range []string{"job_id", "id"} {
		if id := stringField(response, field); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("submit response for %s job has no job id", taskType)
}
