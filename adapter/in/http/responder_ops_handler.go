package http

import (
	"strings"

	"responder_server/config"
	"responder_server/core/port/in"
	"responder_server/core/port/out"
	"responder_server/pkg/logger"
	"responder_server/pkg/metrics"
	"responder_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// OpsHandler exposes the operator endpoints: quota state, recent run
// reports and a manual run trigger. Everything behind a bearer token.
type OpsHandler struct {
	process in.ProcessService
	quota   in.QuotaService
	reports out.ReportRepositoryPort
	cfg     *config.Config
	log     *logger.Logger
}

func NewOpsHandler(process in.ProcessService, quota in.QuotaService, reports out.ReportRepositoryPort, cfg *config.Config, log *logger.Logger) *OpsHandler {
	return &OpsHandler{
		process: process,
		quota:   quota,
		reports: reports,
		cfg:     cfg,
		log:     log,
	}
}

func (h *OpsHandler) Register(app *fiber.App) {
	ops := app.Group("/ops", h.requireToken)
	ops.Get("/stats", h.Stats)
	ops.Get("/runs", h.Runs)
	ops.Post("/run", h.TriggerRun)
}

// requireToken checks the configured bearer token. With no token set
// the ops surface stays closed.
func (h *OpsHandler) requireToken(c *fiber.Ctx) error {
	if h.cfg.OpsBearerToken == "" {
		return response.Unauthorized(c, "ops endpoints disabled")
	}
	auth := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token != h.cfg.OpsBearerToken {
		return response.Unauthorized(c, "invalid token")
	}
	return c.Next()
}

// Stats returns current quota usage and model availability.
func (h *OpsHandler) Stats(c *fiber.Ctx) error {
	ctx := c.Context()

	snapshot, err := h.quota.Snapshot(ctx)
	if err != nil {
		return response.InternalError(c, err.Error())
	}

	availability := make(map[string]any, len(h.cfg.Strategy))
	for task := range h.cfg.Strategy {
		avail, err := h.quota.Availability(ctx, task)
		if err != nil {
			return response.InternalError(c, err.Error())
		}
		availability[task] = avail
	}

	return response.OK(c, fiber.Map{
		"runner_id":    h.cfg.RunnerID,
		"dry_run":      h.cfg.DryRun,
		"quota":        snapshot,
		"availability": availability,
		"pools":        metrics.PoolSnapshot(),
		"latency":      metrics.LatencySnapshot(),
	})
}

// Runs returns the most recent batch run reports.
func (h *OpsHandler) Runs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	if h.reports == nil {
		return response.OK(c, []any{})
	}
	runs, err := h.reports.RecentRuns(c.Context(), limit)
	if err != nil {
		return response.InternalError(c, err.Error())
	}
	return response.OK(c, runs)
}

// TriggerRun starts a batch run immediately and returns its report.
func (h *OpsHandler) TriggerRun(c *fiber.Ctx) error {
	h.log.Info("manual run triggered")

	report, err := h.process.RunOnce(c.Context())
	if err != nil {
		return response.InternalError(c, err.Error())
	}
	return response.OK(c, report)
}
