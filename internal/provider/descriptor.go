package provider

import (
	"fmt"
	"math"

	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/config"
)

// Kind selects the backend family that serves a model.
type Kind string

const (
	KindVertexAI    Kind = "vertex_ai"
	KindGemini      Kind = "gemini"
	KindAzureAI     Kind = "azure_ai"
	KindAzureOpenAI Kind = "azure_openai"
	KindOpenAI      Kind = "openai"
)

func (k Kind) Valid() bool {
	switch k {
	case KindVertexAI, KindGemini, KindAzureAI, KindAzureOpenAI, KindOpenAI:
		return true
	}
	return false
}

// Range is a closed interval of accepted sampling values.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) Clamp(v float64) float64 {
	return math.Min(r.Max, math.Max(r.Min, v))
}

var (
	defaultTemperatureRange = Range{Min: 0, Max: 2}
	defaultTopPRange        = Range{Min: 0, Max: 1}
)

// Descriptor is one entry of the model table. Descriptors are loaded once and
// never change afterwards.
type Descriptor struct {
	Name             string `json:"name"`
	Kind             Kind   `json:"provider"`
	ModelID          string `json:"model_id"`
	Endpoint         string `json:"endpoint,omitempty"`
	Location         string `json:"location,omitempty"`
	Project          string `json:"project,omitempty"`
	APIKey           string `json:"-"`
	APIVersion       string `json:"api_version,omitempty"`
	TemperatureRange Range  `json:"temperature_range"`
	TopPRange        Range  `json:"top_p_range"`
}

// DescriptorFromConfig validates one configured model entry. Missing ranges
// fall back to [0,2] for temperature and [0,1] for top-p.
func DescriptorFromConfig(m config.ModelConfig) (Descriptor, error) {
	d := Descriptor{
		Name:       m.Name,
		Kind:       Kind(m.Provider),
		ModelID:    m.ModelID,
		Endpoint:   m.Endpoint,
		Location:   m.Location,
		Project:    m.Project,
		APIKey:     m.APIKey,
		APIVersion: m.APIVersion,
		TemperatureRange: Range{
			Min: m.TemperatureRange.Min,
			Max: m.TemperatureRange.Max,
		},
		TopPRange: Range{
			Min: m.TopPRange.Min,
			Max: m.TopPRange.Max,
		},
	}

	if m.TemperatureRange.IsZero() {
		d.TemperatureRange = defaultTemperatureRange
	}
	if m.TopPRange.IsZero() {
		d.TopPRange = defaultTopPRange
	}

	if d.Name == "" {
		return Descriptor{}, apperr.Invalid("model name", "must not be empty")
	}
	if !d.Kind.Valid() {
		return Descriptor{}, apperr.Invalid("provider", "%q is not a known provider for model %q", m.Provider, m.Name)
	}
	if d.ModelID == "" {
		return Descriptor{}, apperr.Invalid("model_id", "missing for model %q", m.Name)
	}
	if d.TemperatureRange.Min > d.TemperatureRange.Max {
		return Descriptor{}, apperr.Invalid("temperature_range", "min above max for model %q", m.Name)
	}
	if d.TopPRange.Min > d.TopPRange.Max {
		return Descriptor{}, apperr.Invalid("top_p_range", "min above max for model %q", m.Name)
	}

	switch d.Kind {
	case KindAzureAI, KindAzureOpenAI:
		if d.Endpoint == "" {
			return Descriptor{}, apperr.Invalid("endpoint", "required for %s model %q", d.Kind, m.Name)
		}
	}

	return d, nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s/%s)", d.Name, d.Kind, d.ModelID)
}
