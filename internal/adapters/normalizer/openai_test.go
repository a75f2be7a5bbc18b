package normalizer

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/byte-me-team/junction2025-sub000/internal/infra/openai"
)

type fakeChatClient struct {
	content string
	err     error
	req     openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Role: openai.RoleAssistant, Content: f.content}}},
	}, nil
}

func TestOpenAINormalizeParsesInterests(t *testing.T) {
	client := &fakeChatClient{content: `{"interests": [
		{"name": "chess", "category": "games", "tags": ["chess", "strategy"], "social": "social"},
		{"name": "  ", "category": "arts"}
	]}`}
	n := NewOpenAI(client, "gpt-4.1-mini", time.Minute)

	interests, err := n.Normalize(context.Background(), "I play chess with my neighbour every week")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(interests) != 1 {
		t.Fatalf("пустые имена отбрасываются: ожидали 1 интерес, получили %d", len(interests))
	}
	if interests[0].Name != "chess" || interests[0].Category != "games" {
		t.Fatalf("интерес разобран неверно: %+v", interests[0])
	}
	if client.req.ResponseFormat == nil || client.req.ResponseFormat.Type != openai.ResponseFormatTypeJSONObject {
		t.Fatalf("ожидали запрос JSON-ответа")
	}
}

func TestOpenAINormalizeEmptyText(t *testing.T) {
	client := &fakeChatClient{}
	n := NewOpenAI(client, "", 0)

	interests, err := n.Normalize(context.Background(), "   ")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if interests != nil {
		t.Fatalf("пустой текст не должен уходить в модель")
	}
	if client.req.Model != "" {
		t.Fatalf("модель не должна вызываться для пустого текста")
	}
}

func TestOpenAINormalizeClientError(t *testing.T) {
	client := &fakeChatClient{err: errors.New("429")}
	n := NewOpenAI(client, "", 0)
	if _, err := n.Normalize(context.Background(), "chess"); err == nil {
		t.Fatalf("ожидали ошибку клиента")
	}
}

func TestOpenAINormalizeInvalidJSON(t *testing.T) {
	client := &fakeChatClient{content: "не json"}
	n := NewOpenAI(client, "", 0)
	if _, err := n.Normalize(context.Background(), "chess"); err == nil {
		t.Fatalf("ожидали ошибку разбора")
	}
}
