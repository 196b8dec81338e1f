package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/catalog"
	appconfig "github.com/wolfman30/sara-leads/internal/config"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/leads"
	"github.com/wolfman30/sara-leads/internal/lock"
	"github.com/wolfman30/sara-leads/internal/mortgage"
	"github.com/wolfman30/sara-leads/internal/team"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

// Outbox is both sides of the event outbox.
type Outbox interface {
	events.Recorder
	events.PendingQueue
}

// Stores groups the persistence the engine and the webhook need.
type Stores struct {
	Leads        leads.Repository
	History      leads.HistoryStore
	Catalog      catalog.Store
	Team         team.Directory
	Appointments appointments.Store
	Mortgages    mortgage.Store
	Outbox       Outbox
	Processed    events.Deduper
	Locker       lock.Locker

	pool      *pgxpool.Pool
	historyDB *sql.DB
}

// Close releases database handles.
func (s *Stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.historyDB != nil {
		_ = s.historyDB.Close()
	}
}

// BuildStores wires Postgres-backed stores when DATABASE_URL is set and
// memory stores otherwise. Redis, when available, backs the per-lead lock.
func BuildStores(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (*Stores, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var s *Stores
	var err error
	if cfg.UseMemoryStores || cfg.DatabaseURL == "" {
		s, err = buildMemoryStores(cfg)
		if err != nil {
			return nil, err
		}
		logger.Warn("using in-memory stores; data is lost on restart")
	} else {
		s, err = buildPostgresStores(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("postgres stores ready", "history_persisted", s.historyDB != nil)
	}

	if redisClient != nil {
		s.Locker = lock.NewRedisLocker(redisClient, cfg.LeadLockTTL)
		logger.Info("redis lead lock enabled", "ttl", cfg.LeadLockTTL)
	} else {
		s.Locker = lock.NewLocalLocker()
		logger.Warn("redis not configured; lead lock is process-local")
	}
	return s, nil
}

func buildMemoryStores(cfg *appconfig.Config) (*Stores, error) {
	members, err := team.ParseJSON(cfg.TeamMembersJSON)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	props, err := catalog.ParseJSON(cfg.PropertiesJSON)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &Stores{
		Leads:        leads.NewInMemoryRepository(),
		History:      leads.NewMemoryHistoryStore(),
		Catalog:      catalog.NewMemoryStore(props),
		Team:         team.NewMemoryDirectory(members),
		Appointments: appointments.NewMemoryStore(),
		Mortgages:    mortgage.NewMemoryStore(),
		Outbox:       events.NewMemoryOutbox(),
		Processed:    events.NewMemoryProcessedStore(),
	}, nil
}

func buildPostgresStores(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Stores, error) {
	pool, err := ConnectPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	s := &Stores{
		Leads:        leads.NewPostgresRepository(pool),
		Catalog:      catalog.NewPostgresStore(pool),
		Team:         team.NewPostgresDirectory(pool),
		Appointments: appointments.NewPostgresStore(pool),
		Mortgages:    mortgage.NewPostgresStore(pool),
		Outbox:       events.NewOutboxStore(pool),
		Processed:    events.NewProcessedStore(pool),
		pool:         pool,
	}

	if !cfg.PersistHistory {
		s.History = leads.NewMemoryHistoryStore()
		return s, nil
	}
	db, err := OpenHistoryDB(ctx, cfg)
	if err != nil {
		logger.Warn("history database unavailable; keeping history in memory", "error", err)
		s.History = leads.NewMemoryHistoryStore()
		return s, nil
	}
	s.History = leads.NewSQLHistoryStore(db)
	s.historyDB = db
	return s, nil
}
