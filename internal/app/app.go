package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/handlers"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
	"github.com/ternarybob/mercor/internal/services/artifacts"
	"github.com/ternarybob/mercor/internal/services/browser"
	"github.com/ternarybob/mercor/internal/services/detector"
	"github.com/ternarybob/mercor/internal/services/events"
	"github.com/ternarybob/mercor/internal/services/scheduler"
	"github.com/ternarybob/mercor/internal/services/search"
	"github.com/ternarybob/mercor/internal/services/status"
	"github.com/ternarybob/mercor/internal/services/unblock"
	"github.com/ternarybob/mercor/internal/storage/badger"
	"github.com/ternarybob/mercor/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Services
	EventService    interfaces.EventService
	BrowserService  interfaces.BrowserService
	SearchService   interfaces.SearchService
	Detector        interfaces.Classifier
	ArtifactService interfaces.ArtifactService
	UnblockService  interfaces.UnblockService
	StatusService   *status.Service
	Scheduler       *scheduler.Service
	Worker          *worker.Service

	// Log streaming to the event stream
	LogStreamer *handlers.LogStreamer

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	JobHandler     *handlers.JobHandler
	UnblockHandler *handlers.UnblockHandler
	LockHandler    *handlers.LockHandler
	StatusHandler  *handlers.StatusHandler
	WSHandler      *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// WebSocket handler is created before the services so startup logs
	// from the remaining initialization already reach connected clients.
	app.EventService = events.NewService(app.Logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &app.Config.WebSocket)

	// Bridge arbor's context channel into the event stream
	app.LogStreamer = handlers.NewLogStreamer(app.WSHandler, app.Logger, &app.Config.WebSocket)
	if err := app.LogStreamer.Start(); err != nil {
		return nil, fmt.Errorf("failed to start log streamer: %w", err)
	}
	app.Logger.SetChannel("context", app.LogStreamer.Channel())

	// Initialize services in dependency order
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	if err := app.registerMaintenanceTasks(); err != nil {
		return nil, fmt.Errorf("failed to register maintenance tasks: %w", err)
	}

	// Start background work only after all handlers are wired
	app.Scheduler.Start()
	app.Worker.Start()

	return app, nil
}

func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order.
//
// The worker is created last: it drives the whole attempt pipeline and
// depends on every other service (browser, search, detector, unblock,
// artifacts, events).
func (a *App) initServices() error {
	var err error

	// Browser service talks to the already-running Chrome via CDP
	a.BrowserService = browser.NewService(a.Config, a.Logger)
	a.Logger.Debug().
		Str("cdp_url", a.Config.Browser.CDPURL).
		Msg("Browser service initialized")

	// Search service shapes storefront search URLs and extracts results
	a.SearchService = search.NewService(a.Config, a.Logger)

	// Challenge detector classifies navigation outcomes
	a.Detector, err = detector.NewService(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize detector: %w", err)
	}

	// Artifact service captures diagnostics for blocked and failed attempts
	a.ArtifactService, err = artifacts.NewService(a.Config, a.StorageManager.ArtifactStorage(), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact service: %w", err)
	}
	a.Logger.Debug().
		Str("dir", a.Config.Artifacts.Dir).
		Msg("Artifact service initialized")

	// Unblock coordinator arbitrates the session between worker and human
	a.UnblockService = unblock.NewService(a.Config, a.StorageManager, a.EventService, a.Logger)

	// Status service tracks application state from job events
	a.StatusService = status.NewService(a.EventService, a.Logger)
	a.StatusService.SubscribeToJobEvents()

	// Scheduler runs the periodic maintenance tasks
	a.Scheduler = scheduler.NewService(a.Logger)

	a.Worker = worker.NewService(
		a.Config,
		a.StorageManager,
		a.BrowserService,
		a.SearchService,
		a.Detector,
		a.UnblockService,
		a.ArtifactService,
		a.EventService,
		a.Logger,
	)
	a.Logger.Debug().
		Bool("enabled", a.Config.Worker.Enabled).
		Str("poll_interval", a.Config.Worker.PollInterval).
		Msg("Worker initialized")

	return nil
}

func (a *App) initHandlers() error {
	// WSHandler already initialized in New() before the log streamer
	a.APIHandler = handlers.NewAPIHandler(a.StorageManager, a.BrowserService, a.Worker, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.Config, a.StorageManager, a.ArtifactService, a.EventService, a.Logger)
	a.UnblockHandler = handlers.NewUnblockHandler(a.Config, a.StorageManager, a.UnblockService, a.Logger)
	a.LockHandler = handlers.NewLockHandler(a.Config, a.StorageManager, a.EventService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, a.StorageManager, a.Scheduler, a.Worker, a.Logger)

	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// registerMaintenanceTasks wires the periodic maintenance work into the
// scheduler. Tasks run serialized; none of them touch the browser session.
func (a *App) registerMaintenanceTasks() error {
	// Artifact retention sweep, hourly
	if err := a.Scheduler.Register("artifact-sweep", "0 * * * *", func() error {
		removed, err := a.ArtifactService.Sweep(context.Background())
		if err != nil {
			return err
		}
		if removed > 0 {
			a.Logger.Info().Int("removed", removed).Msg("Artifact retention sweep completed")
		}
		return nil
	}); err != nil {
		return err
	}

	// Badger value log GC; the store never reclaims space on its own
	if err := a.Scheduler.Register("storage-gc", "*/10 * * * *", func() error {
		return a.StorageManager.RunGC()
	}); err != nil {
		return err
	}

	// Lock audit: surfaces holds older than the stale threshold. Reclaim
	// itself happens inside TryAcquire; this task only makes long holds
	// visible to the operator.
	staleAfter := a.Config.Lock.StaleAfterDuration()
	if err := a.Scheduler.Register("lock-audit", "*/5 * * * *", func() error {
		lock, err := a.StorageManager.LockStorage().Status(context.Background(), a.Config.Retailer.SessionID())
		if err != nil {
			return err
		}
		if lock.Holder == models.LockHolderNone {
			return nil
		}
		if age := time.Since(lock.UpdatedAt); age > staleAfter {
			a.Logger.Warn().
				Str("holder", string(lock.Holder)).
				Str("job_id", lock.OwningJobID).
				Str("age", age.Round(time.Second).String()).
				Msg("Session lock hold exceeds stale threshold")
		}
		return nil
	}); err != nil {
		return err
	}

	return nil
}

// Close shuts the application down in reverse initialization order
func (a *App) Close() error {
	// Stop the worker first so no attempt is mid-flight while the
	// services below tear down
	if a.Worker != nil {
		a.Worker.Stop()
	}

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	if a.LogStreamer != nil {
		if err := a.LogStreamer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log streamer")
		}
	}

	if a.BrowserService != nil {
		if err := a.BrowserService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close browser service")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Close storage last
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
