// Package gemini adapts Google's generative AI API to the embedder and
// summarizer interfaces. The API key is read from settings on every call so
// a key change takes effect without a restart.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"kbingest/internal/settings"
)

var ErrNoAPIKey = errors.New("gemini api key not configured")

type SettingsProvider interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Clients hands out a genai client for the current API key. One client is
// shared by every adapter built on the same Clients and replaced when the
// key changes.
type Clients struct {
	settings   SettingsProvider
	clientOpts []option.ClientOption

	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
}

func NewClients(svc SettingsProvider, opts ...option.ClientOption) *Clients {
	return &Clients{settings: svc, clientOpts: opts}
}

// current returns the client and the stored settings.
func (c *Clients) current(ctx context.Context) (*genai.Client, *settings.Settings, error) {
	s, err := c.settings.Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, nil, ErrNoAPIKey
	}
	client, err := c.get(ctx, s.GeminiAPIKey)
	if err != nil {
		return nil, nil, err
	}
	return client, s, nil
}

func (c *Clients) get(ctx context.Context, key string) (*genai.Client, error) {
	c.mu.RLock()
	if c.client != nil && c.currentKey == key {
		defer c.mu.RUnlock()
		return c.client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.currentKey == key {
		return c.client, nil
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			slog.WarnContext(ctx, "failed to close previous genai client", "error", err)
		}
	}

	opts := append(append([]option.ClientOption{}, c.clientOpts...), option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	c.client = client
	c.currentKey = key
	return client, nil
}

func (c *Clients) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.currentKey = ""
	return err
}
