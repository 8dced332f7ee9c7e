package domain

import (
	"strings"
	"time"
)

// ImageStatus is the state of image generation for a processed dream.
type ImageStatus string

const (
	ImageStatusNone       ImageStatus = "none"
	ImageStatusPending    ImageStatus = "pending"
	ImageStatusProcessing ImageStatus = "processing"
	ImageStatusCompleted  ImageStatus = "completed"
	ImageStatusFailed     ImageStatus = "failed"
)

// Sentiment holds three independent 0-100 scores. They are not required to sum to 100.
type Sentiment struct {
	Positive int `gorm:"column:sentiment_positive;not null;default:0" json:"positive" jsonschema:"minimum=0,maximum=100"`
	Negative int `gorm:"column:sentiment_negative;not null;default:0" json:"negative" jsonschema:"minimum=0,maximum=100"`
	Neutral  int `gorm:"column:sentiment_neutral;not null;default:0" json:"neutral" jsonschema:"minimum=0,maximum=100"`
}

// Clamp forces each score into 0..100.
func (s Sentiment) Clamp() Sentiment {
	return Sentiment{
		Positive: clampPercent(s.Positive),
		Negative: clampPercent(s.Negative),
		Neutral:  clampPercent(s.Neutral),
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Analysis is what the interpretation provider returns for a dream.
type Analysis struct {
	Sentiment      Sentiment `json:"sentiment" jsonschema:"required"`
	Keywords       []string  `json:"keywords" jsonschema:"required"`
	Interpretation string    `json:"interpretation" jsonschema:"required"`
	ImagePrompt    string    `json:"image_prompt" jsonschema:"required"`
	VideoPrompt    string    `json:"video_prompt" jsonschema:"required"`
}

// ProcessedDream is the stored analysis of a RawDream. At most one exists per RawDream.
type ProcessedDream struct {
	ID              string      `gorm:"type:text;primaryKey" json:"_id"`
	RawDreamID      string      `gorm:"type:text;not null;uniqueIndex:idx_processed_raw_dream" json:"raw_dream_id"`
	UserID          string      `gorm:"type:text;not null;index:idx_processed_user" json:"user_id"`
	Sentiment       Sentiment   `gorm:"embedded" json:"sentiment"`
	Keywords        StringArray `gorm:"type:text" json:"keywords"`
	Interpretation  string      `gorm:"type:text;not null" json:"interpretation"`
	ImagePrompt     string      `gorm:"type:text" json:"image_prompt,omitempty"`
	VideoPrompt     string      `gorm:"type:text" json:"video_prompt,omitempty"`
	AnalysisVersion string      `gorm:"type:text" json:"analysis_version"`

	ImageStatus     ImageStatus `gorm:"type:text;not null;default:none" json:"image_status"`
	ImageRetryCount int         `gorm:"not null;default:0" json:"image_retry_count"`
	ImageURL        string      `gorm:"type:text" json:"image_url,omitempty"`
	ImageError      string      `gorm:"type:text" json:"image_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table for ProcessedDream.
func (ProcessedDream) TableName() string {
	return "processed_dreams"
}

// HasImagePrompt reports whether an image job should be scheduled.
func (p *ProcessedDream) HasImagePrompt() bool {
	return p != nil && strings.TrimSpace(p.ImagePrompt) != ""
}

// ApplyAnalysis copies provider output onto p.
func (p *ProcessedDream) ApplyAnalysis(a *Analysis, version string) {
	p.Sentiment = a.Sentiment.Clamp()
	p.Keywords = StringArray(a.Keywords)
	p.Interpretation = a.Interpretation
	p.ImagePrompt = a.ImagePrompt
	p.VideoPrompt = a.VideoPrompt
	p.AnalysisVersion = version
}
