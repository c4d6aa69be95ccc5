package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/snapshot"
	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/logger"
	"github.com/cot-reflect/backend/pkg/utils"
)

type SnapshotService interface {
	SnapshotCreator
	List(ctx context.Context, search string) ([]models.SnapshotSummary, error)
	Get(ctx context.Context, id int64) (*models.Snapshot, error)
	Delete(ctx context.Context, id int64) error
	Export(ctx context.Context, format snapshot.Format) ([]byte, error)
}

type EvaluationLister interface {
	ListForSnapshot(ctx context.Context, snapshotID int64) ([]models.Evaluation, error)
}

type SnapshotHandler struct {
	snapshots   SnapshotService
	evaluations EvaluationLister
}

func NewSnapshotHandler(snapshots SnapshotService, evaluations EvaluationLister) *SnapshotHandler {
	return &SnapshotHandler{
		snapshots:   snapshots,
		evaluations: evaluations,
	}
}

func (h *SnapshotHandler) List(c *fiber.Ctx) error {
	list, err := h.snapshots.List(c.UserContext(), c.Query("search"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"snapshots": list,
		"count":     len(list),
	})
}

func (h *SnapshotHandler) Create(c *fiber.Ctx) error {
	var in models.SnapshotInput
	if err := c.BodyParser(&in); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	id, err := h.snapshots.Create(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *SnapshotHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	s, err := h.snapshots.Get(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(s)
}

func (h *SnapshotHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	if err := h.snapshots.Delete(c.UserContext(), id); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Export returns every snapshot as a download. The ETag is the md5 of the
// body, so unchanged exports answer 304.
func (h *SnapshotHandler) Export(c *fiber.Ctx) error {
	format, err := snapshot.ParseFormat(c.Query("format"))
	if err != nil {
		return writeError(c, err)
	}

	data, err := h.snapshots.Export(c.UserContext(), format)
	if err != nil {
		return writeError(c, err)
	}

	etag := `"` + utils.HashBytes(data) + `"`
	c.Set(fiber.HeaderETag, etag)
	if c.Get(fiber.HeaderIfNoneMatch) == etag {
		return c.SendStatus(fiber.StatusNotModified)
	}

	filename := fmt.Sprintf("snapshots-%s.%s", time.Now().UTC().Format("20060102-150405"), format.Extension())
	c.Set(fiber.HeaderContentType, format.ContentType())
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Send(data)
}

func (h *SnapshotHandler) Evaluations(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	list, err := h.evaluations.ListForSnapshot(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"evaluations": list,
		"count":       len(list),
	})
}
