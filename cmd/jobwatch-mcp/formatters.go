package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/jobwatch/internal/models"
)

// formatSnapshot formats a single tracked job as markdown
func formatSnapshot(s *models.TaskSnapshot) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", s.Key))
	sb.WriteString(fmt.Sprintf("**Job:** %s (%s)\n", s.JobID, s.TaskType))
	sb.WriteString(fmt.Sprintf("**State:** %s\n", s.State))
	sb.WriteString(fmt.Sprintf("**Polls:** %d\n", s.PollCount))
	sb.WriteString(fmt.Sprintf("**Started:** %s\n", s.StartedAt.Format(time.RFC3339)))
	if s.FinishedAt != nil {
		sb.WriteString(fmt.Sprintf("**Finished:** %s\n", s.FinishedAt.Format(time.RFC3339)))
	}

	result := s.Result
	if result == nil {
		result = s.LastStatus
	}
	if result != nil {
		sb.WriteString("\n## Latest Status\n")
		if result.Status != "" {
			sb.WriteString(fmt.Sprintf("**Status:** %s\n", result.Status))
		}
		if result.Message != "" {
			sb.WriteString(fmt.Sprintf("**Message:** %s\n", result.Message))
		}
		if result.Progress > 0 {
			sb.WriteString(fmt.Sprintf("**Progress:** %.0f%%\n", result.Progress*100))
		}
		if len(result.Data) > 0 {
			data, _ := json.MarshalIndent(result.Data, "", "  ")
			sb.WriteString(fmt.Sprintf("\n```json\n%s\n```\n", string(data)))
		}
	}

	return sb.String()
}

// formatSnapshotList formats tracked jobs as a markdown table
func formatSnapshotList(snapshots []*models.TaskSnapshot) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Tracked Jobs (%d)\n\n", len(snapshots)))

	if len(snapshots) == 0 {
		sb.WriteString("No jobs are being tracked.\n")
		return sb.String()
	}

	sb.WriteString("| Key | Job | Type | State | Polls |\n")
	sb.WriteString("|-----|-----|------|-------|-------|\n")
	for _, s := range snapshots {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d |\n", s.Key, s.JobID, s.TaskType, s.State, s.PollCount))
	}

	return sb.String()
}
