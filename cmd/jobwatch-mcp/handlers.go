package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/models"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

// handleTrackJob implements the track_job tool
func handleTrackJob(tracker interfaces.TaskTracker, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskType, err := request.RequireString("task_type")
		if err != nil || taskType == "" {
			return textResult("Error: task_type parameter is required"), nil
		}

		jobID := request.GetString("job_id", "")
		if jobID == "" {
			var params map[string]interface{}
			if raw := request.GetString("params", ""); raw != "" {
				if err := json.Unmarshal([]byte(raw), &params); err != nil {
					return textResult(fmt.Sprintf("Error: params must be a JSON object: %v", err)), nil
				}
			}

			jobID, err = tracker.Submit(ctx, taskType, params)
			if err != nil {
				logger.Error().Err(err).Str("task_type", taskType).Msg("Submit failed")
				return textResult(fmt.Sprintf("Submit error: %v", err)), nil
			}
		}

		key := request.GetString("key", "")
		if key == "" {
			key = taskType + ":" + jobID
		}

		if err := tracker.Start(key, taskType, models.JobParams{JobID: jobID}); err != nil {
			return textResult(fmt.Sprintf("Error: %v", err)), nil
		}

		return textResult(fmt.Sprintf("Tracking job `%s` under key `%s`", jobID, key)), nil
	}
}

// handleJobStatus implements the job_status tool
func handleJobStatus(tracker interfaces.TaskTracker, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := request.RequireString("key")
		if err != nil || key == "" {
			return textResult("Error: key parameter is required"), nil
		}

		snapshot, ok := tracker.Get(key)
		if !ok {
			return textResult(fmt.Sprintf("No tracked job for key `%s`", key)), nil
		}
		return textResult(formatSnapshot(snapshot)), nil
	}
}

// handleListJobs implements the list_jobs tool
func handleListJobs(tracker interfaces.TaskTracker, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 50)
		if limit <= 0 {
			limit = 50
		}

		snapshots := tracker.Snapshot()
		if len(snapshots) > limit {
			snapshots = snapshots[:limit]
		}
		return textResult(formatSnapshotList(snapshots)), nil
	}
}

// handleStopJob implements the stop_job tool
func handleStopJob(tracker interfaces.TaskTracker, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := request.RequireString("key")
		if err != nil || key == "" {
			return textResult("Error: key parameter is required"), nil
		}

		tracker.Stop(key)
		logger.Debug().Str("key", key).Msg("Stopped tracking via MCP")
		return textResult(fmt.Sprintf("Stopped tracking `%s`", key)), nil
	}
}

// handleClearJobs implements the clear_jobs tool
func handleClearJobs(tracker interfaces.TaskTracker, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		count := len(tracker.Snapshot())
		tracker.ClearAll()
		return textResult(fmt.Sprintf("Cleared %d tracked job(s)", count)), nil
	}
}
