package ranker

import (
	"context"
	"strings"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
)

// SimpleRanker применяет эвристический скоринг по пересечению тегов и слов.
// Используется, когда ключ OpenAI не задан (dev-окружение, тесты).
type SimpleRanker struct {
	MinConfidence float64
}

// NewSimple создаёт ранкер.
func NewSimple(minConfidence float64) *SimpleRanker {
	return &SimpleRanker{MinConfidence: minConfidence}
}

var _ domain.Ranker = (*SimpleRanker)(nil)

// RankBatch оценивает события по совпадению слов интересов с текстом события.
func (r *SimpleRanker) RankBatch(_ context.Context, interests []domain.Interest, events []domain.Event) ([]domain.Recommendation, error) {
	if len(events) == 0 {
		return nil, nil
	}
	vocab := interestVocabulary(interests)
	out := make([]domain.Recommendation, 0, len(events))
	for _, ev := range events {
		score, matched := matchScore(vocab, ev)
		if score < r.MinConfidence {
			continue
		}
		reason := "Popular local event that fits your schedule."
		if matched != "" {
			reason = "Matches your interest in " + matched + "."
		}
		out = append(out, domain.Recommendation{
			EventID:    ev.ID,
			Title:      ev.Title,
			Reason:     reason,
			Confidence: score,
		})
	}
	return out, nil
}

func interestVocabulary(interests []domain.Interest) map[string]string {
	vocab := make(map[string]string)
	for _, interest := range interests {
		label := strings.TrimSpace(interest.Name)
		for _, word := range strings.Fields(strings.ToLower(interest.Name)) {
			vocab[word] = label
		}
		if interest.Category != "" {
			vocab[strings.ToLower(interest.Category)] = label
		}
		for _, tag := range interest.Tags {
			vocab[strings.ToLower(strings.TrimSpace(tag))] = label
		}
	}
	delete(vocab, "")
	return vocab
}

func matchScore(vocab map[string]string, ev domain.Event) (float64, string) {
	text := strings.ToLower(ev.Title + " " + ev.Summary + " " + strings.Join(ev.Tags, " "))
	words := strings.Fields(text)
	hits := 0
	matched := ""
	for _, word := range words {
		if label, ok := vocab[strings.Trim(word, ".,!?:;()")]; ok {
			hits++
			if matched == "" {
				matched = label
			}
		}
	}
	if hits == 0 {
		return 0, ""
	}
	score := 0.3 + 0.15*float64(hits)
	if score > 0.95 {
		score = 0.95
	}
	return score, matched
}
