package provider

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// GenAIBackend serves Gemini models, either through Vertex AI (application
// default credentials, project and location) or the Gemini API (API key).
// Clients are created on first use because Vertex needs credentials that
// may not exist on machines that never call it.
type GenAIBackend struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGenAIBackend() *GenAIBackend {
	return &GenAIBackend{clients: make(map[string]*genai.Client)}
}

func (b *GenAIBackend) Generate(ctx context.Context, d Descriptor, prompt string, temperature, topP float64) (string, error) {
	client, err := b.client(ctx, d)
	if err != nil {
		return "", err
	}

	resp, err := client.Models.GenerateContent(ctx, d.ModelID, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
		TopP:        genai.Ptr(float32(topP)),
	})
	if err != nil {
		return "", err
	}

	return resp.Text(), nil
}

func (b *GenAIBackend) client(ctx context.Context, d Descriptor) (*genai.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[d.Name]; ok {
		return c, nil
	}

	cfg := &genai.ClientConfig{}
	switch d.Kind {
	case KindVertexAI:
		cfg.Backend = genai.BackendVertexAI
		cfg.Project = d.Project
		cfg.Location = d.Location
	default:
		cfg.Backend = genai.BackendGeminiAPI
		cfg.APIKey = d.APIKey
	}
	if d.Endpoint != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: d.Endpoint}
	}

	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	b.clients[d.Name] = c
	return c, nil
}
