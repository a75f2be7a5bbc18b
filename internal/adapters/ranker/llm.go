package ranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
	openai "github.com/byte-me-team/junction2025-sub000/internal/infra/openai"
)

type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMRanker оценивает соответствие событий интересам пользователя через LLM.
type LLMRanker struct {
	client  chatCompletionClient
	model   string
	timeout time.Duration
}

// NewLLM создаёт ранкер на базе OpenAI Chat Completions.
func NewLLM(client chatCompletionClient, model string, timeout time.Duration) *LLMRanker {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMRanker{client: client, model: model, timeout: timeout}
}

var _ domain.Ranker = (*LLMRanker)(nil)

type llmEventPayload struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Summary   string `json:"summary,omitempty"`
	StartsAt  string `json:"starts_at"`
	EndsAt    string `json:"ends_at,omitempty"`
	Venue     string `json:"venue,omitempty"`
	City      string `json:"city,omitempty"`
	Price     string `json:"price,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

type llmRankResponse struct {
	Recommendations []llmRecommendation `json:"recommendations"`
}

type llmRecommendation struct {
	EventID    json.Number `json:"event_id"`
	Title      string      `json:"title"`
	Reason     string      `json:"reason"`
	Confidence json.Number `json:"confidence"`
}

// RankBatch отправляет батч событий в LLM и возвращает рекомендации.
// Идентификаторы в ответе не считаются достоверными: финальную сверку с
// батчем выполняет вызывающая сторона.
func (r *LLMRanker) RankBatch(ctx context.Context, interests []domain.Interest, events []domain.Event) ([]domain.Recommendation, error) {
	if len(events) == 0 {
		return nil, nil
	}
	payload := make([]llmEventPayload, 0, len(events))
	for _, ev := range events {
		item := llmEventPayload{
			ID:        ev.ID,
			Title:     ev.Title,
			Summary:   truncate(ev.Summary, 1000),
			StartsAt:  ev.StartsAt.UTC().Format(time.RFC3339),
			Venue:     ev.Venue,
			City:      ev.City,
			Price:     ev.Price,
			Tags:      ev.Tags,
			SourceURL: ev.SourceURL,
		}
		if ev.EndsAt != nil {
			item.EndsAt = ev.EndsAt.UTC().Format(time.RFC3339)
		}
		payload = append(payload, item)
	}
	eventsJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal events: %w", err)
	}
	interestsJSON, err := json.Marshal(interests)
	if err != nil {
		return nil, fmt.Errorf("marshal interests: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`Match the user's interests against the candidate events below.
1. Pick only events that genuinely fit the interests; skipping all of them is a valid answer.
2. For every picked event write one short, warm sentence in English explaining why it fits ("reason").
3. Give each pick a "confidence" between 0 and 1.
4. Always use the "id" field from the input as "event_id" and never invent new identifiers.
5. Return strictly JSON: {"recommendations": [{"event_id": 1, "title": "...", "reason": "...", "confidence": 0.8}]}.

User interests (JSON):
%s

Candidate events (JSON):
%s`, string(interestsJSON), string(eventsJSON))

	req := openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0.2,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You are an activity concierge for older adults. Recommend only events present in the input and keep explanations simple and encouraging.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ResponseFormatTypeJSONObject,
		},
	}

	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: пустой ответ")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed llmRankResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("распаковка ответа LLM: %w", err)
	}

	out := make([]domain.Recommendation, 0, len(parsed.Recommendations))
	for _, rec := range parsed.Recommendations {
		id, err := rec.EventID.Int64()
		if err != nil {
			continue
		}
		confidence, err := rec.Confidence.Float64()
		if err != nil {
			confidence = 0
		}
		out = append(out, domain.Recommendation{
			EventID:    id,
			Title:      strings.TrimSpace(rec.Title),
			Reason:     strings.TrimSpace(rec.Reason),
			Confidence: confidence,
		})
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
