package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/alem-hub/socratic-tutor/config"
	"github.com/alem-hub/socratic-tutor/internal/application/command"
	"github.com/alem-hub/socratic-tutor/internal/application/eventhandler"
	"github.com/alem-hub/socratic-tutor/internal/application/query"
	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/qa"
	"github.com/alem-hub/socratic-tutor/internal/domain/resource"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/external/llm"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/messaging"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/filestore"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/projections"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/spreadsheet"
	"github.com/alem-hub/socratic-tutor/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION GRAPH
// ══════════════════════════════════════════════════════════════════════════════

// eventBus is what both bus implementations offer.
type eventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

// Commands groups the write-side handlers.
type Commands struct {
	RegisterStudent  *command.RegisterStudentHandler
	StartSession     *command.StartSessionHandler
	TakeTurn         *command.TakeTurnHandler
	AbandonSession   *command.AbandonSessionHandler
	SubmitAssessment *command.SubmitAssessmentHandler
	AskQuestion      *command.AskQuestionHandler
}

// Queries groups the read-side handlers.
type Queries struct {
	GetStudent     *query.GetStudentHandler
	GetSession     *query.GetSessionHandler
	ListSessions   *query.ListSessionsHandler
	CompareCohorts *query.CompareCohortsHandler
	BuildReport    *query.BuildReportHandler
}

// App is the wired application. Close releases every connection it opened.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Students student.Repository
	Sessions tutoring.SessionRepository
	Locker   tutoring.SlotLocker
	History  qa.HistoryStore
	Bus      eventBus
	Gateway  completion.Gateway
	Catalog  *resource.Catalog
	View     *projections.LearningView

	Alerts  *eventhandler.OnMisconceptionDetectedHandler
	Outages *eventhandler.OnTutorUnavailableHandler
	Health  *handlers.CompositeHealthChecker

	Commands Commands
	Queries  Queries

	postgres *postgres.Connection
	cache    *redis.Cache
	closers  []func() error
}

// BootstrapOptions tune Bootstrap.
type BootstrapOptions struct {
	// Gateway replaces the configured providers.
	Gateway completion.Gateway

	// Migrate applies pending Postgres migrations on startup.
	Migrate bool
}

// Bootstrap builds the application from cfg.
func Bootstrap(ctx context.Context, cfg *config.Config, log *slog.Logger, opts BootstrapOptions) (app *App, err error) {
	app = &App{
		Config: cfg,
		Logger: log,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	if err := app.openStudents(ctx, opts.Migrate); err != nil {
		return nil, err
	}
	if err := app.openSessions(ctx); err != nil {
		return nil, err
	}
	if err := app.openBus(ctx); err != nil {
		return nil, err
	}
	app.openGateway(ctx, opts.Gateway)
	if err := app.loadCatalog(); err != nil {
		return nil, err
	}
	if err := app.subscribe(); err != nil {
		return nil, err
	}
	app.wireHandlers()

	log.Info("application wired",
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("redis_sessions", cfg.Features.Enabled(config.FeatureRedisSessions)),
		slog.Int("resources", app.Catalog.Len()),
	)
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// ──────────────────────────────────────────────────────────────────────────────
// Storage
// ──────────────────────────────────────────────────────────────────────────────

func (a *App) openStudents(ctx context.Context, migrate bool) error {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		a.Students = memory.NewStore()

	case config.StorageFile:
		store, err := filestore.NewStore(cfg.Storage.Dir)
		if err != nil {
			return fmt.Errorf("open file store: %w", err)
		}
		a.Students = store

	case config.StorageSQLite:
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.onClose(store.Close)
		a.Students = store

	case config.StoragePostgres:
		conn, err := a.connectPostgres(ctx)
		if err != nil {
			return err
		}
		if migrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			if applied > 0 {
				a.Logger.Info("migrations applied", slog.Int("count", applied))
			}
		}
		a.Students = postgres.NewStudentRepository(conn)

	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	return nil
}

func (a *App) connectPostgres(ctx context.Context) (*postgres.Connection, error) {
	if a.postgres != nil {
		return a.postgres, nil
	}
	db := a.Config.Database
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = db.URL
	pgCfg.MaxConns = int32(db.MaxConns)
	pgCfg.MinConns = int32(db.MinConns)
	pgCfg.MaxConnLifetime = db.MaxConnLifetime
	pgCfg.MaxConnIdleTime = db.MaxConnIdleTime
	pgCfg.ConnectTimeout = db.ConnectTimeout

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.onClose(func() error { conn.Close(); return nil })
	a.Health.AddCheck("database", handlers.NewDatabaseCheck(conn))
	a.postgres = conn
	return conn, nil
}

// openSessions picks where sessions, slot locks and chat history live:
// Redis when the feature is on, Postgres sessions with in-process locks for
// the postgres driver, memory otherwise.
func (a *App) openSessions(ctx context.Context) error {
	cfg := a.Config
	a.History = memory.NewHistory()

	if cfg.Features.Enabled(config.FeatureRedisSessions) {
		cache, err := a.connectRedis(ctx)
		if err != nil {
			return err
		}
		a.Sessions = redis.NewSessionStore(cache)
		a.Locker = redis.NewSlotLocker(cache)
		a.History = redis.NewChatHistory(cache, cfg.Tutor.ChatWindow)
		return nil
	}

	a.Locker = memory.NewSlotLocker()
	if a.postgres != nil {
		a.Sessions = postgres.NewSessionRepository(a.postgres)
		return nil
	}
	a.Sessions = memory.NewSessionStore()
	return nil
}

func (a *App) connectRedis(ctx context.Context) (*redis.Cache, error) {
	if a.cache != nil {
		return a.cache, nil
	}
	rc := a.Config.Redis
	redisCfg := redis.DefaultConfig()
	redisCfg.URL = rc.URL
	if rc.Host != "" {
		redisCfg.Host = rc.Host
	}
	if rc.Port > 0 {
		redisCfg.Port = rc.Port
	}
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	if rc.PoolSize > 0 {
		redisCfg.PoolSize = rc.PoolSize
	}
	if rc.KeyPrefix != "" {
		redisCfg.KeyPrefix = rc.KeyPrefix
	}

	cache, err := redis.NewCache(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.onClose(cache.Close)
	a.Health.AddCheck("redis", handlers.NewCacheCheck(cache))
	a.cache = cache
	return cache, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Messaging
// ──────────────────────────────────────────────────────────────────────────────

func (a *App) openBus(ctx context.Context) error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = a.Logger

	slow := messaging.LoggingMiddleware(a.Logger, a.Config.Logging.SlowEventHandler)

	if a.Config.Redis.EventChannel == "" {
		bus := messaging.NewInMemoryEventBus(local)
		bus.Use(slow)
		a.onClose(bus.Close)
		a.Bus = bus
		return nil
	}

	cache, err := a.connectRedis(ctx)
	if err != nil {
		return err
	}
	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         redis.NewPubSub(cache),
		ChannelName:    a.Config.Redis.EventChannel,
		LocalBusConfig: local,
		Logger:         a.Logger,
	})
	if err != nil {
		return fmt.Errorf("start redis event bus: %w", err)
	}
	bus.Use(slow)
	// Closed before the cache it reads from.
	a.onClose(bus.Close)
	a.Bus = bus
	return nil
}

func (a *App) subscribe() error {
	cfg := a.Config
	a.View = projections.NewLearningView()
	a.Alerts = eventhandler.NewOnMisconceptionDetectedHandler(cfg.Tutor.MisconceptionAlertThreshold, a.Logger)
	a.Outages = eventhandler.NewOnTutorUnavailableHandler(eventhandler.DefaultOutageConfig(), a.Logger)
	a.Health.AddOptionalCheck("tutor", handlers.NewDegradedCheck(a.Outages))

	if err := eventhandler.NewLearningViewHandler(a.View, a.Logger).Subscribe(a.Bus); err != nil {
		return fmt.Errorf("subscribe learning view: %w", err)
	}
	typed := append([]eventhandler.TypedHandler{a.Alerts, a.Outages}, eventhandler.NewOnSessionClosedHandlers(a.Logger)...)
	if err := eventhandler.Register(a.Bus, typed...); err != nil {
		return fmt.Errorf("register event handlers: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Gateway & resources
// ──────────────────────────────────────────────────────────────────────────────

// openGateway builds the completion gateway. A missing provider key does not
// stop the process: every call fails as a transport failure, so the tutor
// degrades and commands that never call the model keep working.
func (a *App) openGateway(ctx context.Context, override completion.Gateway) {
	if override != nil {
		a.Gateway = override
		return
	}
	gc := a.Config.Gateway
	gw, err := llm.New(ctx, llm.Config{
		Provider:      gc.Provider,
		OpenAIKey:     gc.OpenAIKey,
		OpenAIModel:   gc.OpenAIModel,
		OpenAIBaseURL: gc.OpenAIBaseURL,
		GeminiKey:     gc.GeminiKey,
		GeminiModel:   gc.GeminiModel,
		Fallback:      a.Config.Features.Enabled(config.FeatureGeminiFallback),
		Timeout:       gc.Timeout,

		RequestsPerSecond: gc.RequestsPerSecond,
	}, a.Logger)
	if err != nil {
		a.Logger.Warn("completion gateway unavailable", slog.String("provider", gc.Provider), slog.Any("error", err))
		a.Gateway = completion.GatewayFunc(func(context.Context, completion.Request) completion.Result {
			return completion.TransportFailure(err)
		})
		return
	}
	a.Gateway = gw
}

func (a *App) loadCatalog() error {
	a.Catalog = resource.NewCatalog(resource.Defaults()...)
	path := a.Config.Tutor.ResourcesFile
	if path == "" {
		return nil
	}
	result, err := spreadsheet.ImportResources(path, "")
	if err != nil {
		return fmt.Errorf("import resources from %s: %w", filepath.Base(path), err)
	}
	a.Catalog.Replace(result.Resources)
	if result.Skipped > 0 {
		a.Logger.Warn("resource rows skipped", slog.Int("skipped", result.Skipped), slog.Any("errors", result.Errors))
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Application handlers
// ──────────────────────────────────────────────────────────────────────────────

func (a *App) wireHandlers() {
	cfg := a.Config

	policy := tutoring.PolicySocratic
	if cfg.Features.Enabled(config.FeatureGentleReveal) {
		policy = tutoring.PolicyGentleReveal
	}
	controller := tutoring.NewController(tutoring.Deps{
		Gateway: a.Gateway,
		Hints:   a.Catalog,
		Logger:  a.Logger,
	}, tutoring.Config{
		FailureBudget:      cfg.Tutor.FailureBudget,
		Policy:             policy,
		HistoryWindow:      cfg.Tutor.HistoryWindow,
		ResourceLimit:      cfg.Tutor.ResourceLimit,
		RespondTemperature: cfg.Tutor.RespondTemperature,
		MaxTokens:          cfg.Tutor.MaxTokens,
	})

	deps := command.SessionDeps{
		Students:   a.Students,
		Sessions:   a.Sessions,
		Locker:     a.Locker,
		Controller: controller,
		Publisher:  a.Bus,
		Logger:     a.Logger,
		SlotTTL:    cfg.Tutor.SlotTTL,
	}
	agent := qa.NewAgent(qa.AgentConfig{
		Gateway:   a.Gateway,
		History:   a.History,
		Resources: a.Catalog,
		Window:    cfg.Tutor.ChatWindow,
		Logger:    a.Logger,
	})
	engine := assessment.NewEngine(assessment.WithEpsilon(cfg.Assessment.Epsilon))

	a.Commands = Commands{
		RegisterStudent: command.NewRegisterStudentHandler(a.Students, a.Bus, a.Logger),
		StartSession:    command.NewStartSessionHandler(deps),
		TakeTurn:        command.NewTakeTurnHandler(deps),
		AbandonSession:  command.NewAbandonSessionHandler(deps),
		SubmitAssessment: command.NewSubmitAssessmentHandler(
			a.Students, assessment.DefaultBank(), assessment.NewAnalyzer(a.Gateway), a.Bus, a.Logger,
			command.SubmitAssessmentConfig{Analyze: cfg.Features.Enabled(config.FeatureAssessmentAnalysis)},
		),
		AskQuestion: command.NewAskQuestionHandler(a.Students, agent, a.Locker, cfg.Tutor.SlotTTL, a.Logger),
	}

	compare := query.NewCompareCohortsHandler(a.Students, engine, a.Bus, a.Logger)
	a.Queries = Queries{
		GetStudent:     query.NewGetStudentHandler(a.Students, a.View),
		GetSession:     query.NewGetSessionHandler(a.Sessions),
		ListSessions:   query.NewListSessionsHandler(a.Sessions),
		CompareCohorts: compare,
		BuildReport:    query.NewBuildReportHandler(a.Students, compare),
	}
}

// WriteReport streams the xlsx study report.
func WriteReport(w io.Writer, data *query.ReportData) error {
	return spreadsheet.WriteReport(w, spreadsheet.Report(*data))
}

// SaveReport builds the study report and saves it to path.
func (a *App) SaveReport(ctx context.Context, path string) error {
	data, err := a.Queries.BuildReport.Handle(ctx)
	if err != nil {
		return err
	}
	return spreadsheet.SaveReport(path, spreadsheet.Report(*data))
}
