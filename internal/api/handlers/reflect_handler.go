package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/reflection"
	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/logger"
)

type Runner interface {
	Process(ctx context.Context, req reflection.Request, opts ...reflection.RunOption) (*reflection.Outcome, error)
}

type SnapshotCreator interface {
	Create(ctx context.Context, in models.SnapshotInput) (int64, error)
}

// Sampling holds the temperature and top-p used when a request leaves them out.
type Sampling struct {
	Temperature float64
	TopP        float64
}

type SaveOptions struct {
	Name string `json:"name"`
	Tags string `json:"tags"`
}

// ReflectRequest is the wire form of a reflection run, shared by the HTTP
// and websocket endpoints.
type ReflectRequest struct {
	SystemPrompt    string       `json:"system_prompt"`
	CoTPrompt       string       `json:"cot_prompt"`
	Question        string       `json:"question"`
	DocumentContent string       `json:"document_content"`
	Model           string       `json:"model"`
	Temperature     *float64     `json:"temperature"`
	TopP            *float64     `json:"top_p"`
	Save            *SaveOptions `json:"save,omitempty"`
}

func (r ReflectRequest) toRequest(defaults Sampling) (reflection.Request, error) {
	if r.Save != nil {
		r.Save.Name = strings.TrimSpace(r.Save.Name)
		if r.Save.Name == "" {
			return reflection.Request{}, apperr.Invalid("save.name", "a snapshot name is required")
		}
	}

	req := reflection.Request{
		SystemPrompt:    r.SystemPrompt,
		CoTPrompt:       r.CoTPrompt,
		Question:        r.Question,
		DocumentContent: r.DocumentContent,
		Model:           r.Model,
		Temperature:     defaults.Temperature,
		TopP:            defaults.TopP,
	}
	if r.Temperature != nil {
		req.Temperature = *r.Temperature
	}
	if r.TopP != nil {
		req.TopP = *r.TopP
	}
	return req, nil
}

type ReflectResponse struct {
	*reflection.Outcome
	SnapshotID int64 `json:"snapshot_id,omitempty"`
}

type ReflectHandler struct {
	runner    Runner
	snapshots SnapshotCreator
	defaults  Sampling
}

func NewReflectHandler(runner Runner, snapshots SnapshotCreator, defaults Sampling) *ReflectHandler {
	return &ReflectHandler{
		runner:    runner,
		snapshots: snapshots,
		defaults:  defaults,
	}
}

func (h *ReflectHandler) HandleReflect(c *fiber.Ctx) error {
	var body ReflectRequest
	if err := c.BodyParser(&body); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.run(c.UserContext(), body)
	if err != nil {
		return writeError(c, err)
	}

	status := fiber.StatusOK
	if resp.SnapshotID != 0 {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(resp)
}

func (h *ReflectHandler) run(ctx context.Context, body ReflectRequest, opts ...reflection.RunOption) (*ReflectResponse, error) {
	req, err := body.toRequest(h.defaults)
	if err != nil {
		return nil, err
	}

	outcome, err := h.runner.Process(ctx, req, opts...)
	if err != nil {
		return nil, err
	}

	resp := &ReflectResponse{Outcome: outcome}
	if body.Save == nil {
		return resp, nil
	}

	id, err := h.snapshots.Create(ctx, outcome.SnapshotInput(body.Save.Name, body.Save.Tags))
	if err != nil {
		return nil, err
	}
	resp.SnapshotID = id
	logger.Info("Run saved as snapshot",
		logger.RunID(outcome.RunID),
		logger.SnapshotID(id),
	)
	return resp, nil
}
