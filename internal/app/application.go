// Package app wires stores and services into one runnable application.
package app

import (
	"context"
	"fmt"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/config"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/referral"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/services/accrual"
	activitysvc "github.com/Dumoney00/dumoney-invesment-sub000/internal/services/activity"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/services/ledger"
	referralsvc "github.com/Dumoney00/dumoney-invesment-sub000/internal/services/referral"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage/memory"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage/postgres"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage/rediscache"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage/supabase"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// Application ties the domain services together and manages their lifecycle.
type Application struct {
	log *logger.Logger
	cfg *config.Config

	Ledger    *ledger.Service
	Accrual   *accrual.Service
	Referrals *referralsvc.Service
	Activity  *activitysvc.Manager
	Scheduler *accrual.Scheduler

	closers []func() error
}

// New builds a fully initialised application from the configuration. The
// store backend, change feed and optional redis mirror are selected here;
// services only see the interfaces.
func New(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	a := &Application{log: log, cfg: cfg}

	store, feed, err := a.openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	ledgerSvc := ledger.New(store, store, log.WithField("component", "ledger"))
	accrualSvc := accrual.New(store, ledgerSvc, log.WithField("component", "accrual"))

	admins := make(map[string]struct{}, len(cfg.Referral.Admins))
	for _, id := range cfg.Referral.Admins {
		admins[id] = struct{}{}
	}
	auth := referralsvc.AuthorizerFunc(func(ctx context.Context, actorID string) bool {
		_, ok := admins[actorID]
		return ok
	})

	tiers := cfg.Referral.Tiers
	if len(tiers) == 0 {
		tiers = referral.DefaultTiers
	}
	referralSvc := referralsvc.New(store, store, ledgerSvc, auth, tiers, log.WithField("component", "referral"))

	var fetcher activitysvc.Fetcher = activitysvc.StoreFetcher{Txs: store}
	var accounts rediscache.AccountReader = store
	if cfg.Storage.RedisAddr != "" {
		cacheLog := log.WithField("component", "rediscache")
		mirror := rediscache.New(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB, cacheLog)
		if err := mirror.Ping(context.Background()); err != nil {
			cacheLog.WithError(err).Warn("redis mirror unreachable; fallback reads will miss until it recovers")
		}
		fetcher = rediscache.NewFallbackFetcher(fetcher, mirror, cacheLog)
		accounts = rediscache.NewFallbackAccounts(store, mirror, cacheLog)
		a.closers = append(a.closers, mirror.Close)
	}

	names := func(accountID string) string {
		acct, err := accounts.GetAccount(context.Background(), accountID)
		if err != nil {
			return ""
		}
		return acct.Name
	}
	a.Activity = activitysvc.NewManager(fetcher, feed, names, activitysvc.Options{
		Limit:            cfg.Activity.Limit,
		SlowPollInterval: cfg.Activity.SlowPollInterval.Std(),
		FastPollInterval: cfg.Activity.FastPollInterval.Std(),
		MinRefreshDelay:  cfg.Activity.MinRefreshDelay.Std(),
		NotifyCooldown:   cfg.Activity.NotifyCooldown.Std(),
		MaxRetries:       cfg.Activity.MaxRetries,
	}, log.WithField("component", "activity"))

	a.Ledger = ledgerSvc
	a.Accrual = accrualSvc
	a.Referrals = referralSvc
	a.Scheduler = accrual.NewScheduler(accrualSvc, cfg.Accrual.CronSpec, log.WithField("component", "accrual-scheduler"))

	return a, nil
}

func (a *Application) openStore(cfg config.StorageConfig) (storage.Store, storage.ChangeFeed, error) {
	switch cfg.Backend {
	case "", "memory":
		mem := memory.New()
		return mem, mem, nil

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("postgres backend requires a dsn")
		}
		if cfg.MigrationsDir != "" {
			if err := postgres.Migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		store, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		feed := postgres.NewFeed(cfg.PostgresDSN, a.log.WithField("component", "pg-feed"))
		return store, feed, nil

	case "supabase":
		client, err := supabase.NewClient(supabase.Config{
			URL:        cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configure supabase: %w", err)
		}
		feed := supabase.NewRealtimeFeed(cfg.SupabaseURL, cfg.SupabaseServiceKey, a.log.WithField("component", "supabase-realtime"))
		return supabase.NewStore(client), feed, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Start launches the background workers.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start accrual scheduler: %w", err)
	}
	return nil
}

// Stop shuts the workers down and releases store resources.
func (a *Application) Stop(ctx context.Context) error {
	var firstErr error
	if err := a.Scheduler.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Activity.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
