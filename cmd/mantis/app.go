package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	mantis "github.com/goliatone/go-mantis"
	"github.com/goliatone/go-mantis/adapters/gocommand"
	"github.com/goliatone/go-mantis/adapters/gologger"
	"github.com/goliatone/go-mantis/adapters/prommetrics"
	"github.com/goliatone/go-mantis/configfile"
	"github.com/goliatone/go-mantis/core"
	"github.com/goliatone/go-mantis/ratelimit"
	"github.com/goliatone/go-mantis/security"
	sqlstore "github.com/goliatone/go-mantis/store/sql"
	"github.com/goliatone/go-mantis/transport"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"go.uber.org/zap"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	driver     string
	dsn        string
	verbose    bool
}

// application is the wired settlement stack a command runs against.
type application struct {
	loader   *configfile.Loader
	config   configfile.AppConfig
	zap      *zap.Logger
	provider glog.LoggerProvider
	logger   glog.Logger
	client   *persistence.Client
	factory  *sqlstore.RepositoryFactory
	metrics  *prommetrics.Recorder
	service  *mantis.Service
	bus      *gocommand.Bus
}

type appOptions struct {
	migrate bool
	zap     *zap.Logger
}

func newApplication(ctx context.Context, global globalOptions, opts appOptions) (*application, error) {
	app := &application{config: configfile.DefaultAppConfig()}
	base := opts.zap
	if base == nil {
		built, err := gologger.NewProductionZap(global.verbose)
		if err != nil {
			return nil, fmt.Errorf("mantis: logger: %w", err)
		}
		base = built
	}
	app.zap = base
	app.provider = gologger.NewZapProvider(base)
	app.logger = gologger.Component(app.provider, "cli")

	if path := strings.TrimSpace(global.configPath); path != "" {
		loader, err := configfile.NewLoader(path, configfile.WithLogger(gologger.Component(app.provider, "config")))
		if err != nil {
			return nil, err
		}
		app.loader = loader
		app.config = loader.App()
	}
	if driver := strings.TrimSpace(global.driver); driver != "" {
		app.config.Database.Driver = driver
	}
	if dsn := strings.TrimSpace(global.dsn); dsn != "" {
		app.config.Database.DSN = dsn
	}
	if appKey := os.Getenv("MANTIS_APP_KEY"); appKey != "" {
		app.config.Security.AppKey = appKey
	}
	app.config = app.config.Normalized()
	if err := app.config.Validate(); err != nil {
		return nil, err
	}

	client, err := openPersistence(app.config.Database)
	if err != nil {
		return nil, err
	}
	app.client = client
	if opts.migrate {
		if err := migrate(ctx, client, app.config.Database.Driver); err != nil {
			app.Close()
			return nil, err
		}
	}

	var factoryOpts []sqlstore.FactoryOption
	if ttl := app.config.Cache.SubscriptionTTL(); ttl > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = ttl
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("mantis: subscription cache: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithSubscriptionCache(cacheService))
	}
	if appKey := strings.TrimSpace(app.config.Security.AppKey); appKey != "" {
		secrets, err := security.NewAppKeySecretProviderFromString(appKey,
			security.WithKeyID(app.config.Security.KeyID),
			security.WithVersion(app.config.Security.KeyVersion),
		)
		if err != nil {
			app.Close()
			return nil, err
		}
		factoryOpts = append(factoryOpts, sqlstore.WithSecretProvider(secrets))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.factory = factory

	app.metrics = prommetrics.NewRecorder(nil)
	serviceOpts := []mantis.Option{
		mantis.WithLoggerProvider(app.provider),
		mantis.WithMetricsRecorder(app.metrics),
		mantis.WithPersistenceClient(client),
		mantis.WithRepositoryFactory(factory),
		mantis.WithDeliverySender(mantis.DefaultDeliverySender(
			transport.WithLogging(gologger.Component(app.provider, "transport")),
			ratelimit.Interceptor(
				ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
				gologger.Component(app.provider, "ratelimit"),
			),
		)),
	}
	if app.loader != nil {
		serviceOpts = append(serviceOpts, mantis.WithConfigProvider(core.NewCfgxConfigProvider(app.loader)))
	}
	service, err := mantis.Setup(mantis.DefaultConfig(), serviceOpts...)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.service = service

	facade, err := mantis.NewFacade(service)
	if err != nil {
		app.Close()
		return nil, err
	}
	bus, err := gocommand.NewBus(service,
		gocommand.WithCalculatedEventPublisher(facade.Publisher(), gologger.Component(app.provider, "events")),
	)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.bus = bus
	return app, nil
}

func (a *application) Close() {
	if a == nil {
		return
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.client != nil {
		_ = a.client.Close()
	}
	if a.zap != nil {
		_ = a.zap.Sync()
	}
}
