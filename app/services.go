// Package app wires cashdesk services together in a dig container.
package app

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/warp/cashdesk/api"
	"github.com/warp/cashdesk/cash"
	"github.com/warp/cashdesk/cash/store"
	"github.com/warp/cashdesk/config"
	"github.com/warp/cashdesk/history"
	"github.com/warp/cashdesk/ledger"
	"github.com/warp/cashdesk/store/sqlite"
	"github.com/warp/cashdesk/store/wal"
)

// Injector is a function that will inject desired services
// to a target function
type Injector func(function interface{}) error

// Storage is the opened persistence backend.
type Storage struct {
	Log      cash.TransactionLog
	Balances cash.BalanceStore
	// IndexVolatile is set when the balance index does not survive a
	// restart and has to be rebuilt from the log before serving.
	IndexVolatile bool

	closers []func() error
}

// Close releases the backend.
func (s *Storage) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenStorage opens the configured backend.
func OpenStorage(cfg config.StorageConfig, shards int) (*Storage, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite storage")
		}
		return &Storage{Log: db, Balances: db, closers: []func() error{db.Close}}, nil

	case config.BackendWAL:
		l, err := wal.Open(cfg.WALDir)
		if err != nil {
			return nil, errors.Wrap(err, "open wal storage")
		}
		return &Storage{
			Log:           l,
			Balances:      store.NewBalances(shards),
			IndexVolatile: true,
			closers:       []func() error{l.Close},
		}, nil

	case config.BackendMemory:
		return &Storage{Log: store.NewMemory(), Balances: store.NewBalances(shards), IndexVolatile: true}, nil
	}
	return nil, errors.Errorf("unknown storage backend %q", cfg.Backend)
}

// Prepare rebuilds the balance index when configured to, or when the index
// is volatile. It must run before the engine serves requests.
func Prepare(ctx context.Context, cfg *config.Config, st *Storage, logger *zap.Logger) error {
	if !cfg.Ledger.RebuildOnStart && !st.IndexVolatile {
		return nil
	}
	n, err := ledger.Rebuild(ctx, st.Log, st.Balances)
	if err != nil {
		return errors.Wrap(err, "rebuild balance index")
	}
	logger.Info("balance index rebuilt", zap.Int("keys", n))
	return nil
}

// BootstrapServices setup di container with all app services
func BootstrapServices(cfg *config.Config, logger *zap.Logger) Injector {
	c := dig.New()

	c.Provide(func() *config.Config { return cfg })
	c.Provide(func() *zap.Logger { return logger })

	c.Provide(func(cfg *config.Config) (*cash.DenominationTable, error) {
		return cfg.DenominationTable()
	})
	c.Provide(cash.NewReconciler)

	c.Provide(func(cfg *config.Config) (*Storage, error) {
		return OpenStorage(cfg.Storage, cfg.Ledger.Shards)
	})

	c.Provide(func(cfg *config.Config, r *cash.Reconciler, st *Storage, logger *zap.Logger) *ledger.Engine {
		return ledger.New(r, st.Balances, st.Log,
			ledger.WithShards(cfg.Ledger.Shards),
			ledger.WithLogger(logger.With(zap.String("component", "ledger"))),
		)
	})

	c.Provide(func(cfg *config.Config, st *Storage, logger *zap.Logger) *history.Service {
		return history.New(st.Log,
			history.WithMaxDays(cfg.History.MaxDays),
			history.WithLogger(logger.With(zap.String("component", "history"))),
		)
	})

	c.Provide(func(cfg *config.Config, engine *ledger.Engine, logger *zap.Logger) *ledger.AuditScheduler {
		s := ledger.NewAuditScheduler(engine, cfg.Audit.Schedule, logger)
		s.Enabled = cfg.Audit.Enabled
		return s
	})

	c.Provide(func(engine *ledger.Engine, hist *history.Service, audit *ledger.AuditScheduler, logger *zap.Logger) *api.Handler {
		return api.NewHandler(engine, hist, audit, logger)
	})

	c.Provide(func(cfg *config.Config, h *api.Handler, logger *zap.Logger) http.Handler {
		return api.NewRouter(h, api.RouterConfig{
			APIKey:         cfg.Auth.APIKey,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, logger)
	})

	return func(function interface{}) error {
		return c.Invoke(function)
	}
}
