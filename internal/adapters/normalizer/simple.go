package normalizer

import (
	"context"
	"strings"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
)

// Simple разбирает анкету без LLM: текст режется по запятым и союзам.
// Используется, когда ключ OpenAI не задан.
type Simple struct{}

// NewSimple создаёт нормализатор.
func NewSimple() *Simple {
	return &Simple{}
}

var _ domain.PreferenceNormalizer = (*Simple)(nil)

// Normalize выделяет интересы из перечисления в тексте.
func (s *Simple) Normalize(_ context.Context, raw string) ([]domain.Interest, error) {
	replacer := strings.NewReplacer(" and ", ",", ";", ",", "\n", ",")
	parts := strings.Split(replacer.Replace(strings.ToLower(raw)), ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]domain.Interest, 0, len(parts))
	for _, part := range parts {
		name := strings.Trim(strings.TrimSpace(part), ".!?")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, domain.Interest{
			Name:   name,
			Social: "either",
			Tags:   strings.Fields(name),
		})
	}
	return out, nil
}
