package domain

// Event names pushed to a user's live connections.
const (
	EventDreamUpdated          = "dream-updated"
	EventProcessedDreamUpdated = "processed-dream-updated"
)

// DreamUpdate is the payload of EventDreamUpdated. Analysis is nil unless the
// analysis completed.
type DreamUpdate struct {
	ID                 string          `json:"_id"`
	AnalysisStatus     AnalysisStatus  `json:"analysis_status"`
	AnalysisIsRetrying bool            `json:"analysis_is_retrying"`
	Analysis           *ProcessedDream `json:"analysis"`
}

// ProcessedDreamUpdate is the payload of EventProcessedDreamUpdated.
type ProcessedDreamUpdate struct {
	ID          string      `json:"_id"`
	RawDreamID  string      `json:"raw_dream_id"`
	ImageStatus ImageStatus `json:"image_status"`
	ImageURL    string      `json:"image_url,omitempty"`
	Error       string      `json:"error,omitempty"`
}
