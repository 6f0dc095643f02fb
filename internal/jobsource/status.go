package jobsource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/models"
)

// FetchStatus performs a single GET for jobID. The raw payload is kept in
// JobResult.Data and the well known fields are lifted onto the result.
func (c *Client) FetchStatus(ctx context.Context, jobID string) (*models.JobResult, error) {
	path := strings.ReplaceAll(c.statusPath, "{id}", url.PathEscape(jobID))

	var payload map[string]interface{}
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch status for job %s: %w", jobID, err)
	}

	return resultFromPayload(jobID, payload), nil
}

func resultFromPayload(jobID string, payload map[string]interface{}) *models.JobResult {
	result := &models.JobResult{
		JobID:   jobID,
		Status:  models.JobStatus(strings.ToLower(stringField(payload, "status"))),
		Message: stringField(payload, "message"),
		Data:    payload,
	}
	if result.Message == "" {
		result.Message = stringField(payload, "error")
	}

	if progress, ok := numberField(payload, "progress"); ok {
		// Percentages are normalised to a fraction
		if progress > 1 {
			progress = progress / 100
		}
		result.Progress = progress
	}

	return result
}

// TerminalStatusPredicate reports a job as complete once its status matches
// one of statuses (case-insensitive). An empty list uses the default statuses.
func TerminalStatusPredicate(statuses []string) interfaces.CompletionPredicate {
	if len(statuses) == 0 {
		statuses = models.DefaultTerminalStatuses
	}
	terminal := append([]string(nil), statuses...)
	return func(result *models.JobResult) bool {
		if result == nil {
			return false
		}
		return models.IsTerminalStatus(result.Status, terminal)
	}
}

func stringField(payload map[string]interface{}, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func numberField(payload map[string]interface{}, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
