package main

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/interfaces"
)

func registerTools(s *server.MCPServer, tracker interfaces.TaskTracker, logger arbor.ILogger) {
	s.AddTool(createTrackJobTool(), handleTrackJob(tracker, logger))
	s.AddTool(createJobStatusTool(), handleJobStatus(tracker, logger))
	s.AddTool(createListJobsTool(), handleListJobs(tracker, logger))
	s.AddTool(createStopJobTool(), handleStopJob(tracker, logger))
	s.AddTool(createClearJobsTool(), handleClearJobs(tracker, logger))
}

// createTrackJobTool returns the track_job tool definition
func createTrackJobTool() mcp.Tool {
	return mcp.NewTool("track_job",
		mcp.WithDescription("Start tracking a remote job. Submits a new job first when job_id is omitted."),
		mcp.WithString("task_type",
			mcp.Required(),
			mcp.Description("Kind of job, e.g. export or report"),
		),
		mcp.WithString("job_id",
			mcp.Description("Existing remote job id. Omit to submit a new job."),
		),
		mcp.WithString("key",
			mcp.Description("Tracking key (default: {task_type}:{job_id})"),
		),
		mcp.WithString("params",
			mcp.Description("JSON object of submit parameters, used only when job_id is omitted"),
		),
	)
}

// createJobStatusTool returns the job_status tool definition
func createJobStatusTool() mcp.Tool {
	return mcp.NewTool("job_status",
		mcp.WithDescription("Show the tracked state and latest result of a job"),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Tracking key returned by track_job"),
		),
	)
}

// createListJobsTool returns the list_jobs tool definition
func createListJobsTool() mcp.Tool {
	return mcp.NewTool("list_jobs",
		mcp.WithDescription("List every tracked job, oldest first"),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 50)"),
		),
	)
}

// createStopJobTool returns the stop_job tool definition
func createStopJobTool() mcp.Tool {
	return mcp.NewTool("stop_job",
		mcp.WithDescription("Stop tracking a job. The remote job keeps running."),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Tracking key returned by track_job"),
		),
	)
}

// createClearJobsTool returns the clear_jobs tool definition
func createClearJobsTool() mcp.Tool {
	return mcp.NewTool("clear_jobs",
		mcp.WithDescription("Stop tracking every job"),
	)
}
