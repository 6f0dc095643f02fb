package tracker

import (
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/interfaces"
)

// DefaultPollInterval is used when Config.PollInterval is zero
const DefaultPollInterval = 2 * time.Second

var (
	// ErrInvalidConfig is returned by New when a required collaborator is missing
	ErrInvalidConfig = errors.New("invalid tracker config")
	// ErrTaskTimeout is the error delivered when a task exceeds Config.Timeout
	ErrTaskTimeout = errors.New("task timed out")
)

// Config wires the orchestrator to its collaborators and polling policy
type Config struct {
	Source      interfaces.JobStatusSource     // required
	Submitter   interfaces.JobSubmitter        // required
	IsCompleted interfaces.CompletionPredicate // required
	Sink        interfaces.NotificationSink    // required
	Archive     interfaces.TaskArchive         // optional, receives terminal outcomes

	PollInterval time.Duration // delay between polls (default 2s)
	Timeout      time.Duration // per-task deadline measured from Start, 0 disables
	GraceDelay   time.Duration // delay before the result/error notification fires

	Logger arbor.ILogger
}

func (c *Config) validate() error {
	switch {
	case c.Source == nil:
		return fmt.Errorf("%w: status source is required", ErrInvalidConfig)
	case c.Submitter == nil:
		return fmt.Errorf("%w: submitter is required", ErrInvalidConfig)
	case c.IsCompleted == nil:
		return fmt.Errorf("%w: completion predicate is required", ErrInvalidConfig)
	case c.Sink == nil:
		return fmt.Errorf("%w: notification sink is required", ErrInvalidConfig)
	case c.PollInterval < 0, c.Timeout < 0, c.GraceDelay < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}
