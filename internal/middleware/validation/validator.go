package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxPromptLength     int
	MaxDocumentLength   int
	AllowedContentTypes []string
	// PromptFields and DocumentFields name top-level JSON string fields whose
	// length is capped by MaxPromptLength and MaxDocumentLength.
	PromptFields   []string
	DocumentFields []string
	Logger         *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxPromptLength == 0 {
		cfg.MaxPromptLength = 20000
	}
	if cfg.MaxDocumentLength == 0 {
		cfg.MaxDocumentLength = 500000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEMultipartForm}
	}
	if cfg.PromptFields == nil {
		cfg.PromptFields = []string{"question", "system_prompt", "cot_prompt", "custom_criteria"}
	}
	if cfg.DocumentFields == nil {
		cfg.DocumentFields = []string{"document_content"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limits := make(map[string]int, len(cfg.PromptFields)+len(cfg.DocumentFields))
	for _, f := range cfg.PromptFields {
		limits[f] = cfg.MaxPromptLength
	}
	for _, f := range cfg.DocumentFields {
		limits[f] = cfg.MaxDocumentLength
	}

	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch:
		default:
			return c.Next()
		}

		contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
		if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		body := c.Body()
		if !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) || len(bytes.TrimSpace(body)) == 0 {
			return c.Next()
		}

		var req map[string]any
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		for field, limit := range limits {
			s, ok := req[field].(string)
			if !ok {
				continue
			}
			if n := utf8.RuneCountInString(s); n > limit {
				cfg.Logger.Warn("Request field too long",
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
					zap.String("field", field),
					zap.Int("length", n),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": fmt.Sprintf("%s exceeds maximum length of %d characters", field, limit),
				})
			}
		}

		if !bytes.Contains(body, []byte(`\u0000`)) {
			return c.Next()
		}

		sanitized, err := json.Marshal(stripNUL(req))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}
		c.Request().SetBody(sanitized)

		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.HasPrefix(contentType, a) {
			return true
		}
	}
	return false
}

// stripNUL removes NUL characters from every string in a decoded JSON value.
func stripNUL(v any) any {
	switch t := v.(type) {
	case string:
		return sanitizeString(t)
	case map[string]any:
		for k, e := range t {
			t[k] = stripNUL(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = stripNUL(e)
		}
		return t
	}
	return v
}

func sanitizeString(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}
