package snapshot

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/apperr"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts a format name in any case; empty means JSON.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		f = FormatJSON
	}
	if f == "yml" {
		f = FormatYAML
	}
	return f, f.Validate()
}

func (f Format) Validate() error {
	switch f {
	case FormatJSON, FormatYAML, FormatCSV:
		return nil
	}
	return apperr.Invalid("format", "unsupported export format %q", string(f))
}

func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

func (f Format) Extension() string {
	return string(f)
}

var csvHeader = []string{
	"id", "name", "user_prompt", "system_prompt", "model_name", "cot_prompt",
	"initial_response", "thinking", "reflection", "final_response", "created_at", "tags",
}

func encode(f Format, snapshots []models.Snapshot) ([]byte, error) {
	switch f {
	case FormatYAML:
		data, err := yaml.Marshal(snapshots)
		if err != nil {
			return nil, fmt.Errorf("failed to encode yaml export: %w", err)
		}
		return data, nil
	case FormatCSV:
		return encodeCSV(snapshots)
	default:
		data, err := json.MarshalIndent(snapshots, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode json export: %w", err)
		}
		return data, nil
	}
}

func encodeCSV(snapshots []models.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, s := range snapshots {
		record := []string{
			strconv.FormatInt(s.ID, 10),
			s.Name,
			s.UserPrompt,
			s.SystemPrompt,
			s.ModelName,
			s.CoTPrompt,
			s.InitialResponse,
			s.Thinking,
			s.Reflection,
			s.FinalResponse,
			s.CreatedAt.Format(time.RFC3339Nano),
			s.Tags,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv export: %w", err)
	}
	return buf.Bytes(), nil
}
