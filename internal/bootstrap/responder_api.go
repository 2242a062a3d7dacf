package bootstrap

import (
	"time"

	"responder_server/adapter/in/http"
	"responder_server/config"
	"responder_server/core/port/out"
	"responder_server/infra/middleware"
	"responder_server/pkg/logger"
	"responder_server/pkg/ratelimit"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

// NewAPI builds the ops HTTP server: health probes plus the
// token-protected /ops endpoints.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "responder-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,

		// go-json is a drop-in faster encoding/json
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    1 * 1024 * 1024,
		ServerHeader: "",
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())

	health := http.NewHealthHandler(deps.DB, deps.Redis, deps.MongoDB)
	health.Register(app)

	opsLimiter := ratelimit.NewSlidingWindowLimiter(deps.Redis, 30, time.Minute)
	app.Use("/ops", middleware.RateLimit(opsLimiter))

	var reports out.ReportRepositoryPort
	if deps.Reports != nil {
		reports = deps.Reports
	}
	ops := http.NewOpsHandler(deps.ProcessService, deps.Quota, reports, cfg, deps.Log)
	ops.Register(app)

	return app, cleanup, nil
}
