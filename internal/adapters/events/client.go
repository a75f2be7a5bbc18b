package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/byte-me-team/junction2025-sub000/internal/domain"
	"github.com/byte-me-team/junction2025-sub000/internal/infra/metrics"
)

const defaultPageSize = 200

// Client выгружает предстоящие события из публичного фида городских событий.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	pageSize int
}

// NewClient создаёт клиента фида.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		apiKey:   apiKey,
		pageSize: defaultPageSize,
	}
}

var _ domain.EventSource = (*Client)(nil)

type feedResponse struct {
	Events []feedEvent `json:"events"`
}

type feedEvent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	StartsAt    string   `json:"starts_at"`
	EndsAt      string   `json:"ends_at"`
	Venue       string   `json:"venue"`
	City        string   `json:"city"`
	Price       string   `json:"price"`
	Tags        []string `json:"tags"`
	URL         string   `json:"url"`
}

// FetchUpcoming возвращает события фида с началом в интервале [from, to).
func (c *Client) FetchUpcoming(ctx context.Context, from, to time.Time) ([]domain.Event, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("events feed: base url is empty")
	}
	endpoint, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("events feed: parse url: %w", err)
	}
	query := endpoint.Query()
	query.Set("starts_after", from.UTC().Format(time.RFC3339))
	query.Set("starts_before", to.UTC().Format(time.RFC3339))
	query.Set("size", strconv.Itoa(c.pageSize))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("events feed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("events_feed", "list_events", "events", start, err)
		return nil, fmt.Errorf("events feed: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("events_feed", "list_events", "events", start, err)
		return nil, fmt.Errorf("events feed: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		err = fmt.Errorf("events feed: unexpected status %d", resp.StatusCode)
		metrics.ObserveNetworkRequest("events_feed", "list_events", "events", start, err)
		return nil, err
	}
	var parsed feedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.ObserveNetworkRequest("events_feed", "list_events", "events", start, err)
		return nil, fmt.Errorf("events feed: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("events_feed", "list_events", "events", start, nil)

	out := make([]domain.Event, 0, len(parsed.Events))
	for _, item := range parsed.Events {
		ev, err := convertEvent(item)
		if err != nil {
			// Записи без обязательных полей пропускаются молча.
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func convertEvent(item feedEvent) (domain.Event, error) {
	if item.ID == "" || item.Name == "" {
		return domain.Event{}, fmt.Errorf("events feed: запись без id или названия")
	}
	startsAt, err := time.Parse(time.RFC3339, item.StartsAt)
	if err != nil {
		return domain.Event{}, fmt.Errorf("events feed: некорректное время начала: %w", err)
	}
	ev := domain.Event{
		SourceID:  item.ID,
		Title:     item.Name,
		Summary:   item.Description,
		StartsAt:  startsAt.UTC(),
		Venue:     item.Venue,
		City:      item.City,
		Price:     item.Price,
		Tags:      item.Tags,
		SourceURL: item.URL,
	}
	if item.EndsAt != "" {
		if endsAt, err := time.Parse(time.RFC3339, item.EndsAt); err == nil {
			ts := endsAt.UTC()
			ev.EndsAt = &ts
		}
	}
	return ev, nil
}
