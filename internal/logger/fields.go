package logger

// Fields is shorthand for a structured field map.
type Fields map[string]interface{}

// Tracing fields, carried through context.
const (
	FieldRequestID   = "request_id"
	FieldJobID       = "job_id"
	FieldComponent   = "component"
	FieldUserID      = "user_id"
	FieldDreamID     = "dream_id"
	FieldProcessedID = "processed_id"
	FieldAttempt     = "attempt"
	FieldPipeline    = "pipeline"
)

// Metric fields, attached per entry.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
