package notify

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/models"
)

// LogSink reports task outcomes through the logger only
type LogSink struct {
	logger arbor.ILogger
}

var _ interfaces.NotificationSink = (*LogSink)(nil)

// NewLogSink creates a sink writing to logger
func NewLogSink(logger arbor.ILogger) *LogSink {
	return &LogSink{logger: logger}
}

// HandleResult logs the terminal result of a job
func (s *LogSink) HandleResult(result *models.JobResult, jobID string) {
	event := s.logger.Info().Str("job_id", jobID)
	if result != nil {
		event = event.Str("status", string(result.Status))
		if result.Message != "" {
			event = event.Str("message", result.Message)
		}
	}
	event.Msg("Job finished")
}

// HandleError logs a client-side tracking failure
func (s *LogSink) HandleError(err error, jobID string) {
	s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job tracking failed")
}
