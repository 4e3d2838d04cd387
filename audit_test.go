package goRefresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func collectEvents(sink *ChannelSink, max int, wait time.Duration) []AuditEvent {
	events := make([]AuditEvent, 0, max)
	timeout := time.After(wait)
	for len(events) < max {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			return events
		}
	}
	return events
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	svc, _, done := newTestService(t, func(c *Config) { c.Audit.Enabled = false }, sink)
	defer done()

	if _, err := svc.IssueTokens(context.Background(), "alice"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	svc.Close()

	if sink.count.Load() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.count.Load())
	}
}

func TestAuditLifecycleEventsWithoutSecrets(t *testing.T) {
	sink := NewChannelSink(32)
	svc, _, done := newTestService(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.BufferSize = 32
		c.Audit.DropIfFull = false
	}, sink)
	defer done()
	ctx := context.Background()

	pair, err := svc.IssueTokens(ctx, "alice", WithDeviceLabel("laptop"))
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	next, err := svc.RefreshForUser(ctx, "alice", pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if _, err := svc.RefreshForUser(ctx, "alice", pair.RefreshToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected replay to be not found, got %v", err)
	}
	if _, err := svc.LogoutAll(ctx, "alice"); err != nil {
		t.Fatalf("logout all failed: %v", err)
	}

	events := collectEvents(sink, 4, 2*time.Second)
	want := []string{AuditEventIssueSuccess, AuditEventRefreshSuccess, AuditEventRefreshInvalid, AuditEventLogoutAll}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, ev := range events {
		if ev.EventType != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], ev.EventType)
		}
		if ev.UserID != "alice" || ev.Backend != "redis" || ev.ID == "" {
			t.Fatalf("event %d missing fields: %+v", i, ev)
		}
	}
	if events[0].RecordID != pair.RecordID || events[0].Metadata["device_label"] != "laptop" {
		t.Fatalf("issue event mismatch: %+v", events[0])
	}
	if events[1].RecordID != next.RecordID || events[1].Metadata["previous_record_id"] != pair.RecordID {
		t.Fatalf("refresh event mismatch: %+v", events[1])
	}
	if events[2].Success || events[2].Error != string(auditErrNotFound) {
		t.Fatalf("replay event mismatch: %+v", events[2])
	}
	if events[3].Metadata["revoked"] != "1" {
		t.Fatalf("logout-all event mismatch: %+v", events[3])
	}

	secrets := []string{pair.RefreshToken, next.RefreshToken, pair.AccessToken, next.AccessToken, testSecret}
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		for _, s := range secrets {
			if strings.Contains(string(raw), s) {
				t.Fatalf("sensitive value leaked into audit event %s", ev.EventType)
			}
		}
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrNotFound, auditErrNotFound},
		{fmt.Errorf("%w: x", ErrStoreUnavailable), auditErrUnavailable},
		{ErrTimeout, auditErrTimeout},
		{fmt.Errorf("%w: %w", ErrRotationFailed, ErrStoreUnavailable), auditErrRotationFailed},
		{ErrSecurityInconsistency, auditErrInconsistency},
		{ErrTokenInvalid, auditErrInvalidToken},
		{ErrUserUnknown, auditErrUserUnknown},
		{fmt.Errorf("%w: %w", ErrSessionCreationFailed, errors.New("x")), auditErrSessionCreation},
		{errors.New("boom"), auditErrInternal},
	}
	for _, tt := range tests {
		if got := auditErrorCode(tt.err); got != tt.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
