package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/metrics"
)

// readinessTimeout bounds each dependency check
const readinessTimeout = 5 * time.Second

// Check probes one dependency
type Check struct {
	Name string
	// Critical checks fail readiness; the others only degrade it
	Critical bool
	Probe    func(ctx context.Context) error
}

// StatsFunc contributes a section to /metrics
type StatsFunc func() interface{}

// HealthHandler provides health check endpoints
type HealthHandler struct {
	checks  []Check
	metrics *metrics.Metrics
	stats   map[string]StatsFunc
	logger  *zap.Logger
}

// NewHealthHandler creates a health handler
func NewHealthHandler(checks []Check, m *metrics.Metrics, stats map[string]StatsFunc, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		metrics: m,
		stats:   stats,
		logger:  logger.Named("health"),
	}
}

// Liveness returns simple healthy status (for load balancers)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Readiness runs every dependency check. A failed critical check answers 503;
// a failed optional one reports "degraded" with 200.
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	status := "ready"
	checks := fiber.Map{}

	for _, check := range h.checks {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		err := check.Probe(ctx)
		cancel()

		if err == nil {
			checks[check.Name] = fiber.Map{"status": "healthy"}
			continue
		}

		h.logger.Warn("Health check failed", zap.String("check", check.Name), zap.Error(err))
		checks[check.Name] = fiber.Map{"status": "unhealthy", "error": err.Error()}
		if check.Critical {
			status = "unavailable"
		} else if status == "ready" {
			status = "degraded"
		}
	}

	code := fiber.StatusOK
	if status == "unavailable" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// Metrics returns the counters plus component stats
func (h *HealthHandler) Metrics(c *fiber.Ctx) error {
	body := fiber.Map{"metrics": h.metrics.GetSnapshot()}
	for name, fn := range h.stats {
		body[name] = fn()
	}
	return c.JSON(body)
}
