package llm

import (
	"time"

	"github.com/zhongli1990/saas-codex/internal/log"
)

// NewLLMClient returns a MockClient when mock is set, otherwise a real Client.
func NewLLMClient(baseURL, apiKey string, timeout time.Duration, mock bool) LLMClient {
	if mock {
		log.Infof("mock mode detected, using mock LLM client")
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
