package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/boundary"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/health"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/observability"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/reconcile"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/scoring"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
)

// appEnv holds the services a command needs.
type appEnv struct {
	Store    store.Store
	Metrics  *observability.Metrics
	Pipeline *reconcile.Pipeline
	Runner   *reconcile.Runner
	Scoring  *scoring.Service
	Health   *health.Checker
}

// Close stops running jobs and closes the store.
func (e *appEnv) Close() {
	if e.Runner != nil {
		e.Runner.Close()
	}
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv opens and migrates the store and wires the services. metrics
// selects the default Prometheus registry; commands other than serve use
// unregistered collectors.
func initEnv(ctx context.Context, mode string, metrics bool) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate")
	}

	env := &appEnv{Store: st, Health: health.NewChecker(st)}
	if metrics {
		env.Metrics = observability.NewMetrics()
	} else {
		env.Metrics = observability.NewMetricsForTesting()
	}

	scheme, err := loadScheme(cfg.Reconcile.Scheme, cfg.Reconcile.SchemesFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	env.Pipeline, err = reconcile.NewPipeline(st, scheme, reconcile.Config{
		BatchSize:        cfg.Reconcile.BatchSize,
		BatchesPerSecond: cfg.Reconcile.BatchesPerSecond,
		Retry:            cfg.Reconcile.Retry,
	}, env.Metrics)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	env.Runner = reconcile.NewRunner(env.Pipeline, st)
	env.Scoring = scoring.NewService(st, scoring.Config{
		Concurrency:   cfg.Scoring.Concurrency,
		UseScopeRange: cfg.Scoring.UseScopeRange,
	}, env.Metrics)
	return env, nil
}

// loadScheme resolves a coding scheme by name. The built-in psgc scheme is
// always available; a schemes file adds or overrides others.
func loadScheme(name, file string) (boundary.Scheme, error) {
	schemes := map[string]boundary.Scheme{}
	builtin := boundary.PhilippinesScheme()
	schemes[builtin.Name] = builtin
	if file != "" {
		extra, err := boundary.LoadSchemes(file)
		if err != nil {
			return boundary.Scheme{}, err
		}
		for k, v := range extra {
			schemes[k] = v
		}
	}
	if name == "" {
		name = builtin.Name
	}
	s, ok := schemes[name]
	if !ok {
		return boundary.Scheme{}, eris.Errorf("unknown coding scheme %q", name)
	}
	return s, nil
}
