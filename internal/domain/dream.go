package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// AnalysisStatus is the pipeline state of a raw dream.
type AnalysisStatus string

const (
	AnalysisStatusPending    AnalysisStatus = "pending"
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

// Mood is the dreamer's self-reported mood.
type Mood string

const (
	MoodHappy    Mood = "happy"
	MoodSad      Mood = "sad"
	MoodScared   Mood = "scared"
	MoodConfused Mood = "confused"
	MoodPeaceful Mood = "peaceful"
)

// Valid reports whether m is one of the five known moods.
func (m Mood) Valid() bool {
	switch m {
	case MoodHappy, MoodSad, MoodScared, MoodConfused, MoodPeaceful:
		return true
	}
	return false
}

// MaxManualRetries bounds RawDream.RetryCount and ProcessedDream.ImageRetryCount.
const MaxManualRetries = 3

// StringArray stores a string slice as a JSON text column.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan StringArray")
	}
	if len(raw) == 0 {
		*a = StringArray{}
		return nil
	}
	return json.Unmarshal(raw, a)
}

// RawDream is a user's dream submission and its analysis pipeline state.
type RawDream struct {
	ID           string      `gorm:"type:text;primaryKey" json:"_id"`
	UserID       string      `gorm:"type:text;not null;index:idx_dreams_user" json:"user_id"`
	Title        string      `gorm:"type:text;not null" json:"title"`
	Description  string      `gorm:"type:text;not null" json:"description"`
	Date         time.Time   `json:"date"`
	Mood         Mood        `gorm:"type:text;not null" json:"mood"`
	Intensity    int         `gorm:"not null;default:0" json:"intensity"`
	Symbols      StringArray `gorm:"type:text" json:"symbols"`
	Themes       StringArray `gorm:"type:text" json:"themes"`
	Characters   StringArray `gorm:"type:text" json:"characters"`
	Settings     StringArray `gorm:"type:text" json:"settings"`
	Notes        string      `gorm:"type:text" json:"notes,omitempty"`
	RealLifeLink string      `gorm:"type:text" json:"real_life_link,omitempty"`

	AnalysisStatus     AnalysisStatus    `gorm:"type:text;not null;default:pending;index:idx_dreams_status" json:"analysis_status"`
	RetryCount         int               `gorm:"not null;default:0" json:"retry_count"`
	AnalysisIsRetrying bool              `gorm:"not null;default:false" json:"analysis_is_retrying"`
	LastProcessedAt    *time.Time        `json:"last_processed_at,omitempty"`
	AnalysisAttempts   []AnalysisAttempt `gorm:"foreignKey:DreamID;constraint:OnDelete:CASCADE" json:"analysis_attempts"`

	IsLiked   bool      `gorm:"not null;default:false" json:"isLiked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table for RawDream.
func (RawDream) TableName() string {
	return "dreams"
}

// AttemptStatus is the outcome of a single provider call.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

// AnalysisAttempt is an append-only log entry for one analysis attempt.
type AnalysisAttempt struct {
	ID        uint          `gorm:"primaryKey;autoIncrement" json:"-"`
	DreamID   string        `gorm:"type:text;not null;index:idx_attempts_dream" json:"-"`
	Status    AttemptStatus `gorm:"type:text;not null" json:"status"`
	Error     string        `gorm:"type:text" json:"error,omitempty"`
	Timestamp time.Time     `gorm:"not null" json:"timestamp"`
}

// TableName returns the table for AnalysisAttempt.
func (AnalysisAttempt) TableName() string {
	return "dream_analysis_attempts"
}
