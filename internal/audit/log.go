package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"credvault.org/internal/auth"
	"credvault.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Risk grades how suspicious a security event is.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// LogSecurityEvent records a security-relevant action against a resource with
// a risk grade. It is the wallet's security monitoring sink: share issuance,
// revocation, every verification outcome and rate-limit rejections all land
// here.
func LogSecurityEvent(ctx context.Context, eventType, resourceType, resourceID string, metadata map[string]any, risk Risk) error {
	if risk == "" {
		risk = RiskLow
	}
	fields := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		fields[k] = v
	}
	if resourceType != "" {
		fields["resource_type"] = resourceType
	}
	if resourceID != "" {
		fields["resource_id"] = resourceID
	}
	fields["risk_level"] = string(risk)
	return LogEvent(ctx, eventType, fields)
}
