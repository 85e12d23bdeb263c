package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jrmce/VersionLifecycle-sub000/internal/app/migrate"
	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/eventbus"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository/memory"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository/postgres"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/config"
)

type store struct {
	repo  repository.Store
	close func()
}

func (s store) Close() {
	if s.close != nil {
		s.close()
	}
}

// openStore connects to PostgreSQL and applies migrations, or builds a seeded
// in-memory store when APP_ENV=memory.
func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (store, error) {
	if cfg.InMemory() {
		mem := memory.New()
		seedDemo(mem)
		log.Warn("using in-memory store; data is lost on restart")
		return store{repo: mem}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return store{}, fmt.Errorf("connect database: %w", err)
	}
	runner, err := migrate.New(pool, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		return store{}, fmt.Errorf("configure migrations: %w", err)
	}
	if err := runner.Ping(ctx); err != nil {
		runner.Close()
		return store{}, err
	}
	if err := runner.Ensure(ctx); err != nil {
		runner.Close()
		return store{}, fmt.Errorf("apply migrations: %w", err)
	}
	return store{repo: postgres.New(pool), close: runner.Close}, nil
}

// seedDemo gives the in-memory store one tenant with an application, a
// version and three ordered environments.
func seedDemo(mem *memory.Store) {
	app := mem.AddApplication(domain.Application{TenantID: 1, Name: "demo"})
	mem.AddVersion(domain.Version{TenantID: 1, ApplicationID: app.ID, Number: "1.0.0"})
	for i, name := range []string{"development", "staging", "production"} {
		mem.AddEnvironment(domain.Environment{TenantID: 1, Name: name, Order: (i + 1) * 10})
	}
}

func openEventBus(cfg config.APIConfig, log *slog.Logger) eventbus.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return eventbus.Nop{}
	}
	bus, err := eventbus.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	if err != nil {
		log.Warn("kafka publisher unavailable", "error", err)
		return eventbus.Nop{}
	}
	log.Info("publishing deployment events to kafka", "topic", cfg.KafkaTopic)
	return bus
}
