package bootstrap

import (
	"context"
	"time"

	"responder_server/adapter/out/lock"
	"responder_server/adapter/out/messaging"
	"responder_server/adapter/out/mongodb"
	"responder_server/adapter/out/persistence"
	"responder_server/adapter/out/provider/gmail"
	"responder_server/config"
	"responder_server/core/agent/llm"
	"responder_server/core/service/memory"
	"responder_server/core/service/process"
	"responder_server/core/service/quota"
	"responder_server/infra/database"
	"responder_server/pkg/cache"
	"responder_server/pkg/logger"
	"responder_server/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies holds every wired collaborator of the responder.
type Dependencies struct {
	Config  *config.Config
	Log     *logger.Logger
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Adapters
	Cache      *cache.RedisCache
	Locker     *lock.RedisLocker
	Marker     *lock.RedisProcessedMarker
	MemoryRepo *persistence.MemoryAdapter
	Knowledge  *persistence.KnowledgeAdapter
	QuotaStore *persistence.RedisQuotaStore
	Reports    *mongodb.RunReportAdapter
	Events     *messaging.RedisProducer
	Mailbox    *gmail.Mailbox

	// Services
	LLMClient      *llm.Client
	Agent          *llm.Agent
	Quota          *quota.Limiter
	MemoryService  *memory.Service
	ProcessService *process.Service
}

// NewDependencies connects every backing store and builds the service graph.
// The returned cleanup closes connections in reverse order of creation.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Log: logger.Default()}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Postgres (pgxpool for health checks, sqlx for the adapters)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })
	metrics.RegisterPool("postgres", sqlDB.DB)

	// Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })

	deps.Cache = cache.NewRedisCache(redisClient)
	deps.Locker = lock.NewRedisLocker(deps.Cache)
	deps.Marker = lock.NewRedisProcessedMarker(deps.Cache)
	deps.QuotaStore = persistence.NewRedisQuotaStore(deps.Cache)
	deps.Events = messaging.NewRedisProducer(redisClient)

	// MongoDB holds run reports. Optional: without it the responder
	// still replies, it just keeps no run history.
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(cfg.MongoDBURL, cfg.MongoDBName)
		if err != nil {
			logger.Warn("MongoDB connection failed, run reports disabled: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				mongoClient.Disconnect(context.Background())
			})
			deps.Reports = mongodb.NewRunReportAdapter(mongoClient.Database(cfg.MongoDBName))

			idxCtx, idxCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := deps.Reports.EnsureIndexes(idxCtx); err != nil {
				logger.Warn("failed to ensure run report indexes: %v", err)
			}
			idxCancel()
		}
	}

	// SQL adapters
	deps.MemoryRepo = persistence.NewMemoryAdapter(sqlDB)
	deps.Knowledge = persistence.NewKnowledgeAdapter(sqlDB, deps.Log)

	// Gmail
	mbCtx, mbCancel := context.WithTimeout(context.Background(), 30*time.Second)
	mailbox, err := gmail.NewMailbox(mbCtx, cfg, deps.Log)
	mbCancel()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Mailbox = mailbox

	// Quota limiter
	limiter, err := quota.NewLimiter(cfg, deps.QuotaStore, deps.Log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Quota = limiter

	// LLM agent
	deps.LLMClient = llm.NewClient(cfg, deps.Log)
	deps.Agent = llm.NewAgent(deps.LLMClient, limiter, cfg, deps.Log)

	// Thread memory
	deps.MemoryService = memory.NewService(deps.MemoryRepo, deps.Locker, deps.Cache, cfg, deps.Log)

	// Orchestrator
	processDeps := process.Deps{
		Mailbox:   mailbox,
		Locker:    deps.Locker,
		Marker:    deps.Marker,
		Knowledge: deps.Knowledge,
		Agent:     deps.Agent,
		Memories:  deps.MemoryService,
		Quota:     limiter,
		Events:    deps.Events,
	}
	if deps.Reports != nil {
		processDeps.Reports = deps.Reports
	}
	deps.ProcessService = process.NewService(processDeps, cfg, deps.Log)

	logger.Info("dependencies initialized (runner=%s, dry_run=%v)", cfg.RunnerID, cfg.DryRun)
	return deps, cleanup, nil
}
