// Package audit writes security events as structured JSON for SIEM consumption.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a search parameter.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventLoginFailure is logged for rejected credentials or disabled accounts.
	EventLoginFailure SecurityEventType = "login_failure"
	// EventAccessDenied is logged when an authenticated user hits an endpoint above their role.
	EventAccessDenied SecurityEventType = "access_denied"
)

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	UserID    int64             `json:"user_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails describes a flagged search parameter.
type SQLInjectionDetails struct {
	Resource    string `json:"resource"`
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"`
}

// LoginFailureDetails describes a rejected login. The password is never recorded.
type LoginFailureDetails struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// SecurityAuditor logs security events on the "security_audit" logger.
type SecurityAuditor struct {
	logger *zap.Logger
}

func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) event(ctx context.Context, t SecurityEventType, severity, clientIP string, details any) (SecurityEvent, string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: t,
		UserID:    auth.GetUserIDFromContext(ctx),
		ClientIP:  clientIP,
		Details:   details,
		Severity:  severity,
	}
	// Known types only; Marshal cannot fail here.
	eventJSON, _ := json.Marshal(event)
	return event, string(eventJSON)
}

// LogInjectionAttempt records a flagged search parameter at ERROR with critical severity.
// The request is still served; the value is only ever bound as a query argument.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details SQLInjectionDetails, clientIP string) {
	event, eventJSON := a.event(ctx, EventSQLInjectionAttempt, "critical", clientIP, details)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", eventJSON),
		zap.String("resource", details.Resource),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.Int64("user_id", event.UserID),
		zap.String("severity", event.Severity),
	)
}

// LogLoginFailure records a rejected login at WARN.
func (a *SecurityAuditor) LogLoginFailure(ctx context.Context, details LoginFailureDetails, clientIP string) {
	event, eventJSON := a.event(ctx, EventLoginFailure, "warning", clientIP, details)

	a.logger.Warn("Login failed",
		zap.String("event_json", eventJSON),
		zap.String("email", details.Email),
		zap.String("reason", details.Reason),
		zap.String("client_ip", clientIP),
		zap.String("severity", event.Severity),
	)
}

// LogAccessDenied records a role check failure at WARN.
func (a *SecurityAuditor) LogAccessDenied(ctx context.Context, method, path, clientIP string) {
	event, eventJSON := a.event(ctx, EventAccessDenied, "warning", clientIP, map[string]string{
		"method": method,
		"path":   path,
	})

	a.logger.Warn("Access denied",
		zap.String("event_json", eventJSON),
		zap.String("method", method),
		zap.String("path", path),
		zap.String("client_ip", clientIP),
		zap.Int64("user_id", event.UserID),
		zap.String("severity", event.Severity),
	)
}
