package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/evaluation"
	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/logger"
)

type EvaluationService interface {
	EvaluationLister
	Evaluate(ctx context.Context, req evaluation.Request) (*evaluation.Result, error)
	Get(ctx context.Context, id int64) (*models.Evaluation, error)
}

type EvaluationHandler struct {
	evaluator EvaluationService
}

func NewEvaluationHandler(evaluator EvaluationService) *EvaluationHandler {
	return &EvaluationHandler{evaluator: evaluator}
}

func (h *EvaluationHandler) Create(c *fiber.Ctx) error {
	var req evaluation.Request
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	res, err := h.evaluator.Evaluate(c.UserContext(), req)
	if err != nil {
		return writeError(c, err)
	}

	status := fiber.StatusOK
	if res.EvaluationID != 0 {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(res)
}

func (h *EvaluationHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	eval, err := h.evaluator.Get(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(eval)
}
