package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/common"
	"github.com/ternarybob/jobwatch/internal/handlers"
	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/jobsource"
	"github.com/ternarybob/jobwatch/internal/notify"
	"github.com/ternarybob/jobwatch/internal/services/events"
	"github.com/ternarybob/jobwatch/internal/services/retention"
	"github.com/ternarybob/jobwatch/internal/storage/badger"
	"github.com/ternarybob/jobwatch/internal/tracker"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage (nil when the archive is disabled)
	DB      *badger.BadgerDB
	Archive *badger.ArchiveStorage

	// Event-driven services
	EventService     interfaces.EventService
	Sink             *notify.EventSink
	JobSource        *jobsource.Client
	Tracker          *tracker.Orchestrator
	RetentionService *retention.Service

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	TaskHandler   *handlers.TaskHandler
	ConfigHandler *handlers.ConfigHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Bool("archive_enabled", app.Archive != nil).
		Bool("retention_enabled", app.RetentionService != nil).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the outcome archive when enabled
func (a *App) initDatabase() error {
	if !a.Config.Storage.Badger.Enabled {
		a.Logger.Debug().Msg("Task archive disabled")
		return nil
	}

	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.DB = db
	a.Archive = badger.NewArchiveStorage(db, a.Logger)
	return nil
}

func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	a.Sink = notify.NewEventSink(a.EventService, a.Logger)

	requestTimeout, err := common.ParseDuration(a.Config.Source.RequestTimeout, jobsource.DefaultTimeout)
	if err != nil {
		return err
	}
	rateLimit, err := common.ParseDuration(a.Config.Source.RateLimit, 0)
	if err != nil {
		return err
	}
	a.JobSource = jobsource.NewClient(a.Config.Source.BaseURL,
		jobsource.WithPaths(a.Config.Source.SubmitPath, a.Config.Source.StatusPath),
		jobsource.WithAPIKey(a.Config.Source.APIKey),
		jobsource.WithTimeout(requestTimeout),
		jobsource.WithMinInterval(rateLimit),
		jobsource.WithLogger(a.Logger),
	)

	trackerConfig, err := a.trackerConfig()
	if err != nil {
		return err
	}
	a.Tracker, err = tracker.New(trackerConfig)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	if a.Config.Retention.Enabled {
		if err := a.startRetention(); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) trackerConfig() (tracker.Config, error) {
	pollInterval, err := common.ParseDuration(a.Config.Tracker.PollInterval, tracker.DefaultPollInterval)
	if err != nil {
		return tracker.Config{}, err
	}
	timeout, err := common.ParseDuration(a.Config.Tracker.Timeout, 0)
	if err != nil {
		return tracker.Config{}, err
	}
	graceDelay, err := common.ParseDuration(a.Config.Tracker.GraceDelay, 0)
	if err != nil {
		return tracker.Config{}, err
	}

	cfg := tracker.Config{
		Source:       a.JobSource,
		Submitter:    a.JobSource,
		IsCompleted:  jobsource.TerminalStatusPredicate(a.Config.Source.TerminalStatuses),
		Sink:         a.Sink,
		PollInterval: pollInterval,
		Timeout:      timeout,
		GraceDelay:   graceDelay,
		Logger:       a.Logger,
	}
	// Avoid a typed-nil interface when the archive is disabled
	if a.Archive != nil {
		cfg.Archive = a.Archive
	}
	return cfg, nil
}

func (a *App) startRetention() error {
	finishedTTL, err := common.ParseDuration(a.Config.Retention.FinishedTTL, 0)
	if err != nil {
		return err
	}
	historyTTL, err := common.ParseDuration(a.Config.Retention.HistoryTTL, 0)
	if err != nil {
		return err
	}

	var archive interfaces.TaskArchive
	if a.Archive != nil {
		archive = a.Archive
	}

	a.RetentionService = retention.NewService(a.Tracker, archive, retention.Config{
		Schedule:    a.Config.Retention.Schedule,
		FinishedTTL: finishedTTL,
		HistoryTTL:  historyTTL,
	}, a.Logger)

	return a.RetentionService.Start()
}

func (a *App) initHandlers() {
	var archive interfaces.TaskArchive
	if a.Archive != nil {
		archive = a.Archive
	}

	a.APIHandler = handlers.NewAPIHandler(a.Tracker, a.Logger)
	a.TaskHandler = handlers.NewTaskHandler(a.Tracker, archive, a.Logger)
	a.ConfigHandler = handlers.NewConfigHandler(a.Logger, a.Config)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Tracker, a.Logger, &a.Config.WebSocket)
}

// Close releases every tracked task and shuts down services in reverse order
func (a *App) Close() error {
	if a.RetentionService != nil {
		if err := a.RetentionService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop retention service")
		}
	}

	// Release timers and deliver pending notifications before the bus goes away
	if a.Tracker != nil {
		count := a.Tracker.Len()
		a.Tracker.ClearAll()
		a.Logger.Info().Int("count", count).Msg("Released tracked tasks")
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.EventService != nil {
		// Give async subscribers a moment to drain final events
		time.Sleep(50 * time.Millisecond)
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close database")
			return err
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
