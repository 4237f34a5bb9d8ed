package llm

import (
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"argochat/internal/config"
)

// NewClient creates a chat-completion client for any OpenAI-compatible
// endpoint (DeepSeek, OpenAI, a local proxy) selected by base_url.
func NewClient(cfg config.LLMConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.TimeoutSeconds > 0 {
		clientConfig.HTTPClient = &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}
	}
	return openai.NewClientWithConfig(clientConfig)
}
