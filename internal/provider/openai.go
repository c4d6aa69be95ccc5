package provider

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend serves the OpenAI-compatible families: OpenAI itself, Azure
// AI model-as-a-service endpoints and Azure OpenAI deployments.
type OpenAIBackend struct {
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*openai.Client
}

// NewOpenAIBackend returns a backend whose clients share httpClient. A nil
// httpClient uses the library default.
func NewOpenAIBackend(httpClient *http.Client) *OpenAIBackend {
	return &OpenAIBackend{
		httpClient: httpClient,
		clients:    make(map[string]*openai.Client),
	}
}

func (b *OpenAIBackend) Generate(ctx context.Context, d Descriptor, prompt string, temperature, topP float64) (string, error) {
	client := b.client(d)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.ModelID,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: sendable(temperature),
		TopP:        sendable(topP),
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// sendable keeps an explicit zero on the wire. go-openai drops zero-valued
// sampling fields, which makes the endpoint fall back to its own default.
func sendable(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

func (b *OpenAIBackend) client(d Descriptor) *openai.Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[d.Name]; ok {
		return c
	}

	var cfg openai.ClientConfig
	switch d.Kind {
	case KindAzureOpenAI:
		cfg = openai.DefaultAzureConfig(d.APIKey, d.Endpoint)
		if d.APIVersion != "" {
			cfg.APIVersion = d.APIVersion
		}
		deployment := d.ModelID
		cfg.AzureModelMapperFunc = func(string) string {
			return deployment
		}
	case KindAzureAI:
		cfg = openai.DefaultConfig(d.APIKey)
		cfg.BaseURL = strings.TrimRight(d.Endpoint, "/") + "/v1"
	default:
		cfg = openai.DefaultConfig(d.APIKey)
		if d.Endpoint != "" {
			cfg.BaseURL = strings.TrimRight(d.Endpoint, "/")
		}
	}

	if b.httpClient != nil {
		cfg.HTTPClient = b.httpClient
	}

	c := openai.NewClientWithConfig(cfg)
	b.clients[d.Name] = c
	return c
}
