package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cot-reflect/backend/internal/provider"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ModelLister interface {
	Models() []provider.Descriptor
}

// BreakerReporter is implemented by model listers that track per-model
// circuit state.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

type HealthHandler struct {
	models ModelLister
	checks map[string]Pinger
}

// NewHealthHandler reports readiness from checks, keyed by dependency name.
func NewHealthHandler(models ModelLister, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{models: models, checks: checks}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not ready",
			"checks": results,
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
		"checks": results,
	})
}

func (h *HealthHandler) Models(c *fiber.Ctx) error {
	resp := fiber.Map{"models": h.models.Models()}
	if r, ok := h.models.(BreakerReporter); ok {
		resp["breakers"] = r.BreakerStates()
	}
	return c.JSON(resp)
}
