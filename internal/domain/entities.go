package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User описывает зарегистрированного пользователя сервиса.
type User struct {
	ID        int64
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Interest описывает нормализованный интерес пользователя.
type Interest struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Tags     []string `json:"tags,omitempty"`
	Social   string   `json:"social,omitempty"`
}

// UserPreferences хранит предпочтения пользователя: сырой текст анкеты
// и нормализованный JSON со списком интересов.
type UserPreferences struct {
	UserID         int64
	RawText        string
	NormalizedJSON []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Interests разбирает нормализованный JSON в список интересов.
func (p UserPreferences) Interests() ([]Interest, error) {
	if len(p.NormalizedJSON) == 0 {
		return nil, nil
	}
	var interests []Interest
	if err := json.Unmarshal(p.NormalizedJSON, &interests); err != nil {
		return nil, err
	}
	return interests, nil
}

// Event представляет локальное событие из внешнего каталога.
type Event struct {
	ID        int64
	SourceID  string
	Title     string
	Summary   string
	StartsAt  time.Time
	EndsAt    *time.Time
	Venue     string
	City      string
	Price     string
	Tags      []string
	SourceURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MatchedSuggestion — подобранная рекомендация события для пользователя.
// На пару (UserID, EventID) существует не более одной записи.
type MatchedSuggestion struct {
	ID         uuid.UUID
	UserID     int64
	EventID    int64
	Reason     string
	Confidence float64
	Metadata   []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Event      Event
}

// Recommendation — один элемент ответа ранкера на батч событий.
type Recommendation struct {
	EventID    int64
	Title      string
	Reason     string
	Confidence float64
}

// EnsureResult — результат вызова EnsureMinimum.
type EnsureResult struct {
	Missing    int
	JobStarted bool
}

// JobStatus описывает состояние фоновой генерации для пользователя.
type JobStatus string

const (
	// JobStatusRunning — генерация выполняется.
	JobStatusRunning JobStatus = "running"
	// JobStatusIdle — генерация не запущена.
	JobStatusIdle JobStatus = "idle"
)

// Invite описывает приглашение родственника.
type Invite struct {
	ID            uuid.UUID
	InviterID     int64
	RelativeEmail string
	RelativeName  string
	AcceptedAt    *time.Time
	AcceptedBy    *int64
	CreatedAt     time.Time
}

// Accepted сообщает, принято ли приглашение.
func (i Invite) Accepted() bool {
	return i.AcceptedAt != nil
}

// Activity — запись в календаре пользователя.
type Activity struct {
	ID        int64
	UserID    int64
	Title     string
	Notes     string
	StartsAt  time.Time
	EndsAt    *time.Time
	EventID   *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
