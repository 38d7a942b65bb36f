package db

import (
	"time"
)

// Free-saju calculation states.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// FreeSajuRecord is one birth-chart calculation request and its result.
type FreeSajuRecord struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	UserName    string    `gorm:"not null" json:"user_name"`
	BirthYear   int       `gorm:"not null" json:"birth_year"`
	BirthMonth  int       `gorm:"not null" json:"birth_month"`
	BirthDay    int       `gorm:"not null" json:"birth_day"`
	BirthHour   *int      `json:"birth_hour,omitempty"`
	BirthMinute *int      `json:"birth_minute,omitempty"`
	Gender      string    `gorm:"not null" json:"gender"` // 'male', 'female'
	IsLunar     bool      `gorm:"not null;default:false" json:"is_lunar"`
	MBTI        string    `gorm:"column:mbti" json:"mbti,omitempty"`
	BirthPlace  string    `json:"birth_place,omitempty"`
	SajuData    *string   `gorm:"type:jsonb" json:"-"`
	Status      string    `gorm:"index;not null;default:processing" json:"status"`
	Error       *string   `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReadingLog stores one LLM generation for usage statistics.
type ReadingLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Variant      string    `gorm:"index;not null" json:"variant"` // full-reading, first-impression, step, section
	Target       string    `json:"target,omitempty"`              // step or section name
	Provider     string    `json:"provider"`
	Model        string    `gorm:"index" json:"model"`
	UserName     string    `json:"user_name"`
	Streamed     bool      `json:"streamed"`
	SystemChars  int       `json:"system_chars"`
	UserChars    int       `json:"user_chars"`
	OutputChars  int       `json:"output_chars"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	DurationMs   int64     `json:"duration_ms"`
	Status       string    `gorm:"not null" json:"status"` // ok, error, cancelled
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func models() []any {
	return []any{&FreeSajuRecord{}, &ReadingLog{}}
}
