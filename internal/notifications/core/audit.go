package core

import (
	"context"
	"sync"
	"time"

	"hubalert/internal/types"
)

// AuditRecord is one appended delivery attempt outcome.
type AuditRecord struct {
	NotificationID string                   `json:"notificationId"`
	PlaceID        string                   `json:"placeId,omitempty"`
	PersonID       string                   `json:"personId"`
	Method         types.NotificationMethod `json:"method"`
	State          types.AuditEventState    `json:"state"`
	Cause          string                   `json:"cause,omitempty"`
	Attempt        int                      `json:"attempt"`
	Timestamp      time.Time                `json:"timestamp"`
}

// MemoryAuditLog is an in-process, append-only AuditLog safe for concurrent
// use. It backs tests and workers running without a database connection; the
// pgx-backed implementation lives in internal/db.
type MemoryAuditLog struct {
	mu      sync.Mutex
	clock   types.Clock
	records []AuditRecord
}

// Compile-time assertion that MemoryAuditLog implements AuditLog.
var _ AuditLog = (*MemoryAuditLog)(nil)

// NewMemoryAuditLog creates an empty in-memory audit log.
func NewMemoryAuditLog(clock types.Clock) *MemoryAuditLog {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryAuditLog{clock: clock}
}

// Log appends one attempt record.
func (l *MemoryAuditLog) Log(_ context.Context, n types.Notification, state types.AuditEventState, cause string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, AuditRecord{
		NotificationID: n.ID,
		PlaceID:        n.PlaceID,
		PersonID:       n.PersonID,
		Method:         n.Method,
		State:          state,
		Cause:          cause,
		Attempt:        n.AttemptCount,
		Timestamp:      l.clock.Now(),
	})
	return nil
}

// Records returns a snapshot copy of all appended records.
func (l *MemoryAuditLog) Records() []AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditRecord, len(l.records))
	copy(out, l.records)
	return out
}

// RecordsFor returns a snapshot of records for one notification ID.
func (l *MemoryAuditLog) RecordsFor(notificationID string) []AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []AuditRecord
	for _, r := range l.records {
		if r.NotificationID == notificationID {
			out = append(out, r)
		}
	}
	return out
}
