package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/jobwatch/internal/common"
	"github.com/ternarybob/jobwatch/internal/jobsource"
	"github.com/ternarybob/jobwatch/internal/notify"
	"github.com/ternarybob/jobwatch/internal/tracker"
)

func main() {
	configPath := os.Getenv("JOBWATCH_CONFIG")
	if configPath == "" {
		if _, err := os.Stat("jobwatch.toml"); err == nil {
			configPath = "jobwatch.toml"
		}
	}

	config, err := common.LoadFromFiles(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Minimal console logging to avoid cluttering MCP stdio
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	orchestrator, err := newTracker(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracker")
		os.Exit(1)
	}
	defer orchestrator.Close()

	mcpServer := server.NewMCPServer(
		"jobwatch",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)
	registerTools(mcpServer, orchestrator, logger)

	// Start server (blocks on stdio)
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}

// newTracker builds an orchestrator that reports outcomes through the log only
func newTracker(config *common.Config, logger arbor.ILogger) (*tracker.Orchestrator, error) {
	requestTimeout, err := common.ParseDuration(config.Source.RequestTimeout, jobsource.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	rateLimit, err := common.ParseDuration(config.Source.RateLimit, 0)
	if err != nil {
		return nil, err
	}
	pollInterval, err := common.ParseDuration(config.Tracker.PollInterval, tracker.DefaultPollInterval)
	if err != nil {
		return nil, err
	}
	timeout, err := common.ParseDuration(config.Tracker.Timeout, 0)
	if err != nil {
		return nil, err
	}

	client := jobsource.NewClient(config.Source.BaseURL,
		jobsource.WithPaths(config.Source.SubmitPath, config.Source.StatusPath),
		jobsource.WithAPIKey(config.Source.APIKey),
		jobsource.WithTimeout(requestTimeout),
		jobsource.WithMinInterval(rateLimit),
		jobsource.WithLogger(logger),
	)

	return tracker.New(tracker.Config{
		Source:       client,
		Submitter:    client,
		IsCompleted:  jobsource.TerminalStatusPredicate(config.Source.TerminalStatuses),
		Sink:         notify.NewLogSink(logger),
		PollInterval: pollInterval,
		Timeout:      timeout,
		Logger:       logger,
	})
}
