package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
	openai "github.com/byte-me-team/junction2025-sub000/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI превращает свободный текст анкеты в структурированные интересы
// через OpenAI Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewOpenAI создаёт нормализатор предпочтений.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

var _ domain.PreferenceNormalizer = (*OpenAI)(nil)

type normalizedPayload struct {
	Interests []domain.Interest `json:"interests"`
}

// Normalize строит список интересов по тексту анкеты.
func (n *OpenAI) Normalize(ctx context.Context, raw string) ([]domain.Interest, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`Extract the person's leisure interests from the free-form text below.
Return strictly JSON of the form {"interests": [{"name": "...", "category": "...", "tags": ["..."], "social": "solo|social|either"}]}.
Use short lowercase tags, pick "category" from: arts, music, sports, nature, food, learning, community, games, wellness.
Text:
%s`, truncate(text, 2000))

	req := openai.ChatCompletionRequest{
		Model:       n.model,
		Temperature: 0.2,
		MaxTokens:   600,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You help seniors describe their hobbies. Keep only interests actually present in the text, do not invent any.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := n.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: пустой ответ")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed normalizedPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("распаковка ответа LLM: %w", err)
	}

	out := make([]domain.Interest, 0, len(parsed.Interests))
	for _, interest := range parsed.Interests {
		name := strings.TrimSpace(interest.Name)
		if name == "" {
			continue
		}
		interest.Name = name
		out = append(out, interest)
	}
	return out, nil
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
