package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	migrations "github.com/jrmce/VersionLifecycle-sub000/db"
)

const runTimeout = time.Minute

// Migration is one migration file and whether it has been applied.
type Migration struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// Runner applies the schema through a goose provider sharing the API's pool.
type Runner struct {
	pool   *pgxpool.Pool
	source fs.FS
	origin string
	log    *slog.Logger
}

// New returns a runner. An empty migrationsDir selects the migrations
// embedded in the binary.
func New(pool *pgxpool.Pool, migrationsDir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("nil pool provided")
	}
	if log == nil {
		log = slog.Default()
	}
	r := Runner{pool: pool, log: log.With("component", "migrate")}
	if migrationsDir == "" {
		sub, err := fs.Sub(migrations.Migrations, migrations.MigrationsDir)
		if err != nil {
			return Runner{}, fmt.Errorf("open embedded migrations: %w", err)
		}
		r.source, r.origin = sub, "embedded"
		return r, nil
	}
	info, err := os.Stat(migrationsDir)
	if err != nil {
		return Runner{}, fmt.Errorf("locate migrations dir: %w", err)
	}
	if !info.IsDir() {
		return Runner{}, fmt.Errorf("migrations path %s is not a directory", migrationsDir)
	}
	r.source, r.origin = os.DirFS(migrationsDir), migrationsDir
	return r, nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	return r.withProvider(func(p *goose.Provider) error {
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		for _, res := range results {
			r.logResult(res)
		}
		r.log.Info("schema up to date", "source", r.origin, "applied", len(results))
		return nil
	})
}

// Status lists every known migration in version order.
func (r Runner) Status(ctx context.Context) ([]Migration, error) {
	var out []Migration
	err := r.withProvider(func(p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, st := range statuses {
			out = append(out, Migration{
				Version:   st.Source.Version,
				Path:      st.Source.Path,
				Applied:   st.State == goose.StateApplied,
				AppliedAt: st.AppliedAt,
			})
		}
		return nil
	})
	return out, err
}

// Down rolls back the latest migration, or every migration above target
// when target is positive.
func (r Runner) Down(ctx context.Context, target int64) error {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	return r.withProvider(func(p *goose.Provider) error {
		if target > 0 {
			results, err := p.DownTo(ctx, target)
			if err != nil {
				return fmt.Errorf("rollback to version %d: %w", target, err)
			}
			for _, res := range results {
				r.logResult(res)
			}
			return nil
		}
		res, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
		r.logResult(res)
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r Runner) Close() {
	r.pool.Close()
}

func (r Runner) withProvider(fn func(*goose.Provider) error) error {
	db := stdlib.OpenDBFromPool(r.pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, r.source)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("configure goose: %w", err)
	}
	defer provider.Close()
	return fn(provider)
}

func (r Runner) logResult(res *goose.MigrationResult) {
	if res == nil || res.Source == nil {
		return
	}
	r.log.Info("migration applied",
		"version", res.Source.Version,
		"path", res.Source.Path,
		"direction", res.Direction,
		"duration_ms", res.Duration.Milliseconds(),
	)
}
