package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/finops/internal/approval"
	"github.com/odyssey-erp/finops/internal/costcenter"
	"github.com/odyssey-erp/finops/internal/document"
	"github.com/odyssey-erp/finops/internal/lifecycle"
	"github.com/odyssey-erp/finops/internal/notify"
	"github.com/odyssey-erp/finops/internal/observability"
	"github.com/odyssey-erp/finops/internal/platform/cache"
	"github.com/odyssey-erp/finops/internal/platform/db"
	"github.com/odyssey-erp/finops/internal/posting"
	"github.com/odyssey-erp/finops/internal/sequence"
	"github.com/odyssey-erp/finops/internal/shared"
	"github.com/odyssey-erp/finops/internal/storage/memory"
	"github.com/odyssey-erp/finops/jobs"
)

// ChainStore persists approval chains.
type ChainStore interface {
	SaveFeature(ctx context.Context, orgID int64, fc approval.FeatureConfig) error
}

// Runtime holds the wired components of one process.
type Runtime struct {
	Config      *Config
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Documents   *lifecycle.Service
	Approvals   *approval.Engine
	Resolver    *approval.Resolver
	Posting     *posting.Engine
	Sequences   *sequence.Generator
	Chains      ChainStore
	CostCenters jobs.CostCenterSource
	Checks      map[string]Pinger
	// Memory is set when the memory storage driver is active.
	Memory *memory.Store

	notifier *notify.Async
	closers  []func()
}

type storage struct {
	repo    posting.Repository
	reader  lifecycle.Reader
	seq     sequence.Store
	configs approval.ConfigSource
	chains  ChainStore
	centers jobs.CostCenterSource
	history lifecycle.History
	audit   interface {
		lifecycle.AuditRecorder
		posting.AuditRecorder
	}
}

// Bootstrap connects backing services and wires every component.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics(), Checks: map[string]Pinger{}}

	st, err := rt.openStorage(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
		rt.Checks["redis"] = PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	var configCache approval.Cache = approval.NewMemoryCache(cfg.ApprovalCacheTTL)
	if cfg.ApprovalCacheBackend == CacheRedis {
		configCache = approval.NewRedisCache(redisClient, cfg.ApprovalCacheTTL)
	}
	rt.Resolver = approval.NewResolver(st.configs, configCache, logger)

	var next notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.NotifyQueue {
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		})
		next = notify.NewQueueNotifier(client)
	}
	rt.notifier = notify.NewAsync(next, cfg.NotifyBuffer, logger,
		notify.WithDeliveryTimeout(cfg.NotifyTimeout),
		notify.WithDropHook(func(notify.Notification) { rt.Metrics.NotificationDropped() }))

	rt.Approvals = approval.NewEngine(rt.Resolver, rt.notifier, logger)
	rt.Posting = posting.NewEngine(st.repo, posting.Config{
		PayableGroupCode: cfg.LedgerPayableGroupCode,
		SubAccountPrefix: cfg.LedgerSubAccountPrefix,
	}, logger, posting.WithMetrics(rt.Metrics), posting.WithAudit(st.audit))
	rt.Sequences = sequence.NewGenerator(st.seq, sequence.WithDefaultPrefix(func(kind string) string {
		return document.Kind(kind).DefaultPrefix()
	}))
	rt.Documents = lifecycle.NewService(lifecycle.Dependencies{
		Repository: st.repo,
		Reader:     st.reader,
		IDs:        rt.Sequences,
		Approvals:  rt.Approvals,
		Posting:    rt.Posting,
		History:    st.history,
		Audit:      st.audit,
		Logger:     logger,
	})
	rt.Chains = st.chains
	rt.CostCenters = st.centers
	return rt, nil
}

func (rt *Runtime) openStorage(ctx context.Context) (storage, error) {
	cfg := rt.Config
	if cfg.StorageDriver == StorageMemory {
		store := memory.New()
		rt.Memory = store
		return storage{
			repo:    store,
			reader:  store,
			seq:     store,
			configs: store,
			chains:  memoryChains{store},
			centers: store.CostCenters(),
			history: &approval.MemoryHistory{},
			audit:   shared.NewMemoryAuditLog(),
		}, nil
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return storage{}, err
	}
	rt.closers = append(rt.closers, pool.Close)
	rt.Checks["postgres"] = PingFunc(pool.Ping)
	if cfg.DBAutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return storage{}, err
		}
		rt.Logger.Info("schema applied")
	}
	policy := db.RetryPolicy{
		MaxAttempts: cfg.TxMaxAttempts,
		Backoff:     cfg.TxBackoff,
		OnRetry: func(attempt int, err error) {
			rt.Metrics.TxRetried(attempt, err)
			rt.Logger.Warn("retrying transaction", slog.Int("attempt", attempt), slog.Any("error", err))
		},
	}
	return storage{
		repo:    posting.NewPgRepository(pool, policy),
		reader:  pgDocuments{pool},
		seq:     sequence.NewQueries(pool),
		configs: approval.NewRepository(pool),
		chains:  approval.NewRepository(pool),
		centers: costcenter.NewQueries(pool),
		history: approval.NewHistoryRecorder(pool, rt.Logger),
		audit:   shared.NewAuditLogger(pool),
	}, nil
}

// SaveChain stores fc and drops the cached configuration of the organization.
func (rt *Runtime) SaveChain(ctx context.Context, orgID int64, fc approval.FeatureConfig) error {
	if fc.Feature == "" {
		return fmt.Errorf("%w: feature required", shared.ErrValidation)
	}
	for state := range fc.Levels {
		if !state.IsLevel() {
			return fmt.Errorf("%w: %q is not an approval level", shared.ErrValidation, state)
		}
	}
	if err := rt.Chains.SaveFeature(ctx, orgID, fc); err != nil {
		return err
	}
	return rt.Resolver.Invalidate(ctx, orgID)
}

// Close flushes pending notifications and releases connections in reverse order.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.notifier != nil {
		rt.notifier.Close()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

type pgDocuments struct {
	pool *pgxpool.Pool
}

func (p pgDocuments) GetDocument(ctx context.Context, orgID int64, id uuid.UUID) (document.Document, error) {
	return document.NewQueries(p.pool).Get(ctx, orgID, id)
}

type memoryChains struct {
	store *memory.Store
}

func (m memoryChains) SaveFeature(_ context.Context, orgID int64, fc approval.FeatureConfig) error {
	m.store.SaveFeature(orgID, fc)
	return nil
}
