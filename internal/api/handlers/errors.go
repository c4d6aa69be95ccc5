package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/logger"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	if _, ok := apperr.AsProvider(err); ok {
		return fiber.StatusBadGateway
	}
	switch {
	case apperr.IsValidation(err):
		return fiber.StatusBadRequest
	case apperr.IsNotFound(err):
		return fiber.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

// publicMessage hides the detail of unexpected failures from clients.
func publicMessage(err error) string {
	if statusFor(err) == fiber.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(fiber.Map{"error": publicMessage(err)})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(name, "%q is not a positive integer", c.Params(name))
	}
	return id, nil
}
