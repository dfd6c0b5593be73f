// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/meterbill/adapters/clock"
	"github.com/artpar/meterbill/adapters/hasher"
	apihttp "github.com/artpar/meterbill/adapters/http"
	"github.com/artpar/meterbill/adapters/idgen"
	"github.com/artpar/meterbill/adapters/memory"
	"github.com/artpar/meterbill/adapters/metrics"
	"github.com/artpar/meterbill/adapters/remote"
	"github.com/artpar/meterbill/adapters/sqlite"
	"github.com/artpar/meterbill/adapters/telemetry"
	"github.com/artpar/meterbill/app"
	"github.com/artpar/meterbill/config"
	"github.com/artpar/meterbill/domain/auth"
	"github.com/artpar/meterbill/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	DB         *sqlite.DB // nil in remote mode
	HTTPServer *http.Server
	Metrics    *metrics.Collector // nil when metrics are disabled
	Registry   *prometheus.Registry
	Tracing    *telemetry.Provider // noop when tracing is disabled

	// Services
	Billing   *app.BillingService
	Rating    *app.RatingEngine
	Segmenter *app.PeriodSegmenter

	Sources Sources
	Local   *LocalStores // nil in remote mode

	holder *config.Holder
	users  *memory.UserStore // local mode token table
}

// Sources are the data source adapters selected by sources.mode.
type Sources struct {
	Plans    ports.PlanSource
	Tenants  ports.TenantSource
	TaxRates ports.TaxRateSource
	Usage    ports.UsageSource
	Metering ports.MeteringWriter
	Users    ports.UserInfoProvider
}

// LocalStores are the writable SQLite stores of local mode.
type LocalStores struct {
	Plans   *sqlite.PlanStore
	Tenants *sqlite.TenantStore
	Usage   *sqlite.UsageStore
}

// Options provides optional settings for application initialization.
type Options struct {
	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// Holder, when set, is subscribed to so reloadable settings apply
	// without a restart.
	Holder *config.Holder

	// Clock overrides the system clock.
	Clock ports.Clock

	// Version is reported as the service version on exported spans.
	Version string
}

// New creates and initializes the application from cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := NewLogger(cfg.Logging, out)

	logger.Info().
		Str("sources", cfg.Sources.Mode).
		Msg("initializing meterbill")

	a := &App{
		Logger: logger,
		Config: cfg,
		holder: opts.Holder,
	}

	if cfg.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(a.Registry)
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initTracing(out, opts.Version); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if err := a.initSources(); err != nil {
		a.Close()
		return nil, fmt.Errorf("init sources: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	a.initServices(clk)
	a.initHTTPServer()

	if a.holder != nil {
		a.holder.SetMetrics(a.Metrics)
		a.holder.OnChange(a.applyConfig)
	}

	return a, nil
}

func (a *App) initTracing(out io.Writer, version string) error {
	tc := a.Config.Tracing
	if !tc.Enabled {
		a.Tracing = telemetry.Noop()
		return nil
	}

	p, err := telemetry.New(context.Background(), telemetry.Config{
		Exporter:       tc.Exporter,
		Endpoint:       tc.Endpoint,
		SampleRatio:    tc.SampleRatio,
		ServiceVersion: version,
		Out:            out,
	})
	if err != nil {
		return err
	}
	a.Tracing = p

	otel.SetTracerProvider(p.TracerProvider())
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	a.Logger.Info().
		Str("exporter", tc.Exporter).
		Float64("sample_ratio", tc.SampleRatio).
		Msg("tracing enabled")
	return nil
}

func (a *App) initSources() error {
	switch a.Config.Sources.Mode {
	case config.ModeRemote:
		pricingSvc := remote.NewPricingService(remote.NewClient(clientConfig(a.Config.Sources.Pricing)))
		authSvc := remote.NewAuthService(remote.NewClient(clientConfig(a.Config.Sources.Auth)))

		a.Sources = Sources{
			Plans:    pricingSvc,
			Tenants:  authSvc,
			TaxRates: pricingSvc,
			Usage:    pricingSvc,
			Metering: pricingSvc,
			Users:    authSvc,
		}
		a.Logger.Info().
			Str("pricing_url", a.Config.Sources.Pricing.URL).
			Str("auth_url", a.Config.Sources.Auth.URL).
			Msg("using remote sources")
		return nil

	case config.ModeLocal:
		db, err := sqlite.Open(a.Config.Database.DSN)
		if err != nil {
			return err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		a.DB = db

		a.Local = &LocalStores{
			Plans:   sqlite.NewPlanStore(db),
			Tenants: sqlite.NewTenantStore(db),
			Usage:   sqlite.NewUsageStore(db),
		}
		a.users = memory.NewUserStore()
		a.users.SetHasher(hasher.NewBcrypt(0))
		a.users.Replace(UsersFromConfig(a.Config.Auth.Tokens))

		a.Sources = Sources{
			Plans:    a.Local.Plans,
			Tenants:  a.Local.Tenants,
			TaxRates: a.Local.Plans,
			Usage:    a.Local.Usage,
			Metering: a.Local.Usage,
			Users:    a.users,
		}
		a.Logger.Info().
			Str("dsn", a.Config.Database.DSN).
			Int("tokens", len(a.Config.Auth.Tokens)).
			Msg("using local sources")
		return nil
	}
	return fmt.Errorf("unknown sources mode %q", a.Config.Sources.Mode)
}

func (a *App) initServices(clk ports.Clock) {
	a.Rating = app.NewRatingEngine(app.RatingDeps{
		Usage:   a.Sources.Usage,
		Logger:  a.Logger.With().Str("component", "rating").Logger(),
		Metrics: a.Metrics,
		Tracer:  a.Tracing.Tracer(),
	}, app.RatingConfig{
		Concurrency:       a.Config.Rating.Concurrency,
		InvalidUnitPolicy: app.InvalidUnitPolicy(a.Config.Rating.InvalidUnitPolicy),
	})

	a.Segmenter = app.NewPeriodSegmenter(app.SegmenterDeps{
		Clock:   clk,
		Logger:  a.Logger.With().Str("component", "periods").Logger(),
		Metrics: a.Metrics,
		Tracer:  a.Tracing.Tracer(),
	})

	a.Billing = app.NewBillingService(app.BillingDeps{
		Rating:    a.Rating,
		Segmenter: a.Segmenter,
		Plans:     a.Sources.Plans,
		Tenants:   a.Sources.Tenants,
		TaxRates:  a.Sources.TaxRates,
		Metering:  a.Sources.Metering,
		Users:     a.Sources.Users,
		Clock:     clk,
		Logger:    a.Logger.With().Str("component", "billing").Logger(),
		Tracer:    a.Tracing.Tracer(),
	})
}

func (a *App) initHTTPServer() {
	routerCfg := apihttp.RouterConfig{
		Metrics:        a.Metrics,
		IDs:            idgen.UUID{},
		RequestTimeout: a.Config.Server.RequestTimeout,
	}
	if a.Config.Tracing.Enabled {
		routerCfg.Tracer = a.Tracing.Tracer()
	}
	if a.Registry != nil {
		routerCfg.MetricsHandler = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})
		routerCfg.MetricsPath = a.Config.Metrics.Path
	}

	handler := apihttp.NewHandler(a.Billing, a.Logger.With().Str("component", "http").Logger())
	router := apihttp.NewRouter(handler, a.Logger, routerCfg)

	a.HTTPServer = &http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// applyConfig applies the reloadable part of a new configuration.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if a.users != nil {
		a.users.Replace(UsersFromConfig(cfg.Auth.Tokens))
	}
	a.Logger.Info().
		Str("log_level", cfg.Logging.Level).
		Int("tokens", len(cfg.Auth.Tokens)).
		Msg("applied reloaded configuration")
}

// Run starts the HTTP server and blocks until ctx is done, SIGINT/SIGTERM
// arrives or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Close()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		a.Logger.Info().Msg("context done, shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (a *App) Shutdown() error {
	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if a.HTTPServer != nil {
		if err = a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	a.Close()
	a.Logger.Info().Msg("shutdown complete")
	return err
}

// Close releases the config watchers, flushes pending spans and closes the
// database. It does not stop a running HTTP server.
func (a *App) Close() {
	if a.holder != nil {
		a.holder.Stop()
	}
	if a.Tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Tracing.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("tracer shutdown error")
		}
		cancel()
		a.Tracing = nil
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
		a.DB = nil
	}
}

// NewLogger builds the process logger. The level is applied globally so a
// config reload can change it.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

// UsersFromConfig builds the local mode token table, split into clear and
// hashed tokens. Each tenant grant becomes a single environment holding the
// configured roles.
func UsersFromConfig(tokens []config.TokenConfig) (map[string]auth.UserInfo, []memory.HashedToken) {
	users := make(map[string]auth.UserInfo, len(tokens))
	var hashed []memory.HashedToken
	for _, tok := range tokens {
		u := auth.UserInfo{ID: tok.UserID, Email: tok.Email}
		for _, ta := range tok.Tenants {
			env := auth.Env{ID: 1, Name: "default"}
			for _, role := range ta.Roles {
				env.Roles = append(env.Roles, auth.Role{RoleName: role})
			}
			u.Tenants = append(u.Tenants, auth.TenantMembership{ID: ta.ID, Envs: []auth.Env{env}})
		}
		if tok.TokenHash != "" {
			hashed = append(hashed, memory.HashedToken{Hash: []byte(tok.TokenHash), User: u})
			continue
		}
		users[tok.Token] = u
	}
	return users, hashed
}

func clientConfig(rc config.RemoteConfig) remote.ClientConfig {
	return remote.ClientConfig{
		BaseURL: rc.URL,
		APIKey:  rc.APIKey,
		Timeout: rc.Timeout,
		Headers: rc.Headers,
	}
}
