package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Fields flow through context enrichment, so every log line inside
// one pipeline pass carries the document, record id, and action it belongs to.
type LogFields struct {
	Document  *string // Document type of the change being processed
	RecordID  *string // Changed record's id
	Action    *string // create | update | delete
	ChangeID  *int64  // Deterministic change id derived from the log position
	EntryTag  *string // Per-entry tag for correlating fan-out writes
	Component string  // Component name (e.g. "ripple.engine.relations")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking
// precedence. Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.Document != nil {
		result.Document = new.Document
	}
	if new.RecordID != nil {
		result.RecordID = new.RecordID
	}
	if new.Action != nil {
		result.Action = new.Action
	}
	if new.ChangeID != nil {
		result.ChangeID = new.ChangeID
	}
	if new.EntryTag != nil {
		result.EntryTag = new.EntryTag
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{Document: logger.Ptr(name)})
func Ptr[T any](v T) *T {
	return &v
}
