package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vrsandeep/fastchecker/internal/config"
	"github.com/vrsandeep/fastchecker/internal/db"
	"github.com/vrsandeep/fastchecker/internal/jobs"
	"github.com/vrsandeep/fastchecker/internal/logger"
	"github.com/vrsandeep/fastchecker/internal/models"
	"github.com/vrsandeep/fastchecker/internal/orchestrator"
	"github.com/vrsandeep/fastchecker/internal/panel"
	"github.com/vrsandeep/fastchecker/internal/sellability"
	"github.com/vrsandeep/fastchecker/internal/sellability/mock"
	"github.com/vrsandeep/fastchecker/internal/sellability/spapi"
	"github.com/vrsandeep/fastchecker/internal/store"
	"github.com/vrsandeep/fastchecker/internal/websocket"
)

// App holds the core components of the agent that are shared between the
// server and the CLI.
type App struct {
	config     *config.Config
	viper      *viper.Viper
	db         *sql.DB
	log        *zap.SugaredLogger
	store      *store.Store
	wsHub      *websocket.Hub
	relay      *orchestrator.Conn
	runner     *orchestrator.Runner
	panel      *panel.Panel
	providers  *sellability.Registry
	jobManager *jobs.JobManager

	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New() (*App, error) {
	return NewWithViper(viper.New())
}

// NewWithViper is New on a caller-owned viper instance, so command line
// flags bound to it take effect.
func NewWithViper(v *viper.Viper) (*App, error) {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	app, err := NewFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	app.viper = v
	return app, nil
}

// NewFromConfig builds the App from an already loaded configuration.
func NewFromConfig(cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	database, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		config:    cfg,
		db:        database,
		log:       log,
		store:     store.New(database),
		wsHub:     websocket.NewHub(),
		panel:     panel.New(),
		providers: sellability.NewRegistry(),
	}
	a.wsHub.SetLogger(log)

	a.providers.Register(spapi.New(
		spapi.WithTokenURL(cfg.Sellability.TokenURL),
		spapi.WithEndpoint(cfg.Sellability.Endpoint),
	))
	a.providers.Register(mock.New())
	provider, ok := a.providers.Get(cfg.Sellability.Provider)
	if !ok {
		database.Close()
		return nil, fmt.Errorf("unknown sellability provider %q", cfg.Sellability.Provider)
	}

	a.relay = orchestrator.NewConn(cfg.Agent.RelayURL, cfg.Agent.ReconnectDelay, log.Named("relay"))
	a.runner = orchestrator.NewRunner(orchestrator.RunnerOptions{
		Client:        provider,
		Store:         a.store,
		Relay:         a.relay,
		Mailbox:       orchestrator.NewMailbox(cfg.Agent.MailboxURL),
		Credentials:   cfg.Credentials,
		Marketplace:   cfg.Sellability.Marketplace,
		ItemDelay:     cfg.Agent.ItemDelay,
		LookupTimeout: cfg.Agent.LookupTimeout,
		Notify:        a.dispatch,
		Log:           log.Named("runner"),
	})
	a.relay.OnFrame(a.runner.HandleRelayFrame)

	a.jobManager = jobs.NewManager(a)
	jobs.RegisterAll(a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n, err := a.store.CountManualResults(ctx); err != nil {
		log.Warnf("Could not read stored manual results: %v", err)
	} else {
		log.Infof("Loaded %d stored manual result(s)", n)
	}

	log.Infof("Core application setup complete (provider %s).", provider.GetInfo().Name)
	return a, nil
}

// dispatch fans an orchestrator event out to the panel and the UI socket.
func (a *App) dispatch(e models.Event) {
	a.panel.Apply(e)
	if err := a.wsHub.BroadcastJSON(e); err != nil {
		a.log.Warnf("Failed to broadcast %s event: %v", e.Action, err)
	}
}

// Start launches the background goroutines: the UI hub, the relay
// connection, the job scheduler and config hot reload.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.wsHub.Run()
	go a.relay.Run(ctx)
	a.relay.EnsureConnected()
	a.scheduler = jobs.StartJobs(a)

	if a.viper != nil && a.viper.ConfigFileUsed() != "" {
		config.Watch(a.viper, a.applyConfig, func(err error) {
			a.log.Warnf("Ignoring invalid config change: %v", err)
		})
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.runner.SetDelays(cfg.Agent.ItemDelay, cfg.Agent.LookupTimeout)
	a.relay.SetReconnectDelay(cfg.Agent.ReconnectDelay)
	a.log.Infof("Config reloaded: item delay %s, lookup timeout %s, reconnect delay %s",
		cfg.Agent.ItemDelay, cfg.Agent.LookupTimeout, cfg.Agent.ReconnectDelay)
}

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.runner != nil {
		a.runner.Stop()
		a.runner.Wait()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.wsHub != nil {
		a.wsHub.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.log != nil {
		a.log.Sync()
	}
}

// Implement the jobs.JobContext interface
func (a *App) Config() *config.Config         { return a.config }
func (a *App) Logger() *zap.SugaredLogger     { return a.log }
func (a *App) Relay() jobs.RelayConn          { return a.relay }
func (a *App) Store() store.ManualResultStore { return a.store }
func (a *App) JobManager() *jobs.JobManager   { return a.jobManager }

func (a *App) DB() *sql.DB                      { return a.db }
func (a *App) WsHub() *websocket.Hub            { return a.wsHub }
func (a *App) Conn() *orchestrator.Conn         { return a.relay }
func (a *App) Runner() *orchestrator.Runner     { return a.runner }
func (a *App) Panel() *panel.Panel              { return a.panel }
func (a *App) Providers() *sellability.Registry { return a.providers }
