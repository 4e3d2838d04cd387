package goRefresh

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/goRefresh/internal/audit"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditEvent is one audit record. It never carries token material.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Service's dispatcher.
type AuditSink = audit.Sink

type NoOpSink = audit.NoOpSink

type ChannelSink = audit.ChannelSink

type JSONWriterSink = audit.JSONWriterSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// LogSink writes audit events to a zap logger.
type LogSink = audit.LogSink

func NewLogSink(logger *zap.Logger) *LogSink {
	return audit.NewLogSink(logger)
}

const (
	AuditEventIssueSuccess          = "issue_success"
	AuditEventIssueFailure          = "issue_failure"
	AuditEventRefreshSuccess        = "refresh_success"
	AuditEventRefreshInvalid        = "refresh_invalid"
	AuditEventRefreshUnavailable    = "refresh_unavailable"
	AuditEventRotationFailed        = "rotation_failed"
	AuditEventSecurityInconsistency = "security_inconsistency"
	AuditEventLogoutSession         = "logout_session"
	AuditEventLogoutAll             = "logout_all"
	AuditEventFallbackActivated     = "fallback_activated"
	AuditEventOrphanedRecord        = "orphaned_record"
)

// AuditErrorCode is the stable error vocabulary used in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrNotFound        AuditErrorCode = "not_found"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrTimeout         AuditErrorCode = "timeout"
	auditErrRotationFailed  AuditErrorCode = "rotation_failed"
	auditErrInconsistency   AuditErrorCode = "security_inconsistency"
	auditErrInvalidToken    AuditErrorCode = "invalid_token"
	auditErrUserUnknown     AuditErrorCode = "user_unknown"
	auditErrSessionCreation AuditErrorCode = "session_creation_failed"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (s *Service) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	recordID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if s == nil || s.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		RecordID:  recordID,
		Backend:   s.Backend(),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	s.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRotationFailed):
		return auditErrRotationFailed
	case errors.Is(err, ErrTimeout):
		return auditErrTimeout
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrSecurityInconsistency):
		return auditErrInconsistency
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrUserUnknown):
		return auditErrUserUnknown
	case errors.Is(err, ErrSessionCreationFailed):
		return auditErrSessionCreation
	default:
		return auditErrInternal
	}
}
