package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/document"
	"github.com/cot-reflect/backend/pkg/logger"
)

type Extractor interface {
	Extract(name, contentType string, data []byte) (*document.Document, error)
}

type DocumentHandler struct {
	extractor Extractor
}

func NewDocumentHandler(extractor Extractor) *DocumentHandler {
	return &DocumentHandler{extractor: extractor}
}

// Extract accepts a multipart "file" upload and returns its text, ready to
// be sent back as document_content.
func (h *DocumentHandler) Extract(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "A multipart file field named \"file\" is required")
	}

	f, err := fh.Open()
	if err != nil {
		logger.Error("Failed to open upload", zap.String("name", fh.Filename), zap.Error(err))
		return writeError(c, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return writeError(c, err)
	}

	doc, err := h.extractor.Extract(fh.Filename, fh.Header.Get(fiber.HeaderContentType), data)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(doc)
}
