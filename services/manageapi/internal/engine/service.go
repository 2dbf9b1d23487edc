package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/agentgraph/agentgraph-open/pkg/config"
	"github.com/agentgraph/agentgraph-open/pkg/database"
	"github.com/agentgraph/agentgraph-open/pkg/health"
	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/graph"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
)

// Service runs the management API under service.BaseService.
type Service struct {
	engine *Engine
	config *config.Config
	logger *logger.Logger

	closeDB func()
	redis   *database.Redis
}

func NewService() *Service {
	return &Service{}
}

// SetLogger implements the service.LoggerAware interface
func (s *Service) SetLogger(logger *logger.Logger) {
	s.logger = logger
}

// Initialize opens the database, applies the schema when
// database.auto_migrate is set, connects the optional Redis view cache and
// builds the engine.
func (s *Service) Initialize(ctx context.Context, cfg *config.Config) error {
	s.config = cfg
	if s.logger == nil {
		s.logger = logger.New("manageapi", "")
	}
	s.logger.SetLevel(logger.ParseLevel(cfg.GetString("logging.level", "INFO")))

	db, closeDB, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	s.closeDB = closeDB
	s.logger.Infof("Connected to %s database", db.Driver())

	st := store.New(db)
	if cfg.GetBool("database.auto_migrate", true) {
		if err := st.Migrate(ctx); err != nil {
			s.closeDB()
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	var cache graph.ViewCache
	if redisCfg, ok := database.RedisFromConfig(cfg); ok {
		redisDB, err := database.NewRedis(ctx, redisCfg)
		if err != nil {
			// Run without the view cache
			s.logger.Warnf("Graph view cache disabled: %v", err)
		} else {
			s.redis = redisDB
			viewCache, err := graph.NewRedisViewCache(redisDB, cfg.GetDuration("cache.ttl", 5*time.Minute), s.logger)
			if err != nil {
				s.closeAll()
				return err
			}
			cache = viewCache
			s.logger.Infof("Graph view cache enabled at %s", redisCfg.Addr)
		}
	}

	s.engine, err = NewEngine(cfg, st, cache, s.logger)
	if err != nil {
		s.closeAll()
		return err
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	return s.engine.Start(ctx)
}

func (s *Service) Stop(ctx context.Context, gracePeriod time.Duration) error {
	var err error
	if s.engine != nil {
		err = s.engine.Stop(ctx)
	}
	s.closeAll()
	return err
}

func (s *Service) CollectMetrics() map[string]int64 {
	if s.engine == nil {
		return nil
	}
	return s.engine.GetMetrics()
}

func (s *Service) HealthChecks() map[string]health.CheckFunc {
	checks := map[string]health.CheckFunc{
		"http_server": s.checkHTTPServer,
		"database":    s.checkDatabase,
	}
	if s.redis != nil {
		checks["redis"] = s.redis.Ping
	}
	return checks
}

func (s *Service) checkHTTPServer(ctx context.Context) error {
	if s.engine == nil {
		return fmt.Errorf("service not initialized")
	}
	return s.engine.CheckHTTPServer()
}

func (s *Service) checkDatabase(ctx context.Context) error {
	if s.engine == nil {
		return fmt.Errorf("service not initialized")
	}
	return s.engine.CheckStore(ctx)
}

func (s *Service) closeAll() {
	if s.redis != nil {
		s.redis.Close()
		s.redis = nil
	}
	if s.closeDB != nil {
		s.closeDB()
		s.closeDB = nil
	}
}

// OpenDatabase opens the database selected by database.driver.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*database.DB, func(), error) {
	switch driver := database.Driver(cfg.GetString("database.driver", string(database.DriverPostgres))); driver {
	case database.DriverPostgres:
		pgCfg, err := database.PostgresFromConfig(cfg)
		if err != nil {
			return nil, nil, err
		}
		pg, err := database.NewPostgreSQL(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		return pg.DB(), pg.Close, nil
	case database.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.GetString("database.path", "agentgraph.db"))
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database.driver %q (expected postgres or sqlite)", driver)
	}
}
