package models

import (
	"encoding/json"
	"time"
)

// Действие, записываемое в журнал аудита
type AuditAction string

const (
	AuditReportIncident  AuditAction = "REPORT_INCIDENT"
	AuditMergeIncident   AuditAction = "MERGE_INCIDENT"
	AuditDispatchUnit    AuditAction = "DISPATCH_UNIT"
	AuditVerifyIncident  AuditAction = "VERIFY_INCIDENT"
	AuditResolveIncident AuditAction = "RESOLVE_INCIDENT"
	AuditReleaseUnit     AuditAction = "RELEASE_UNIT"
	AuditCreateUnit      AuditAction = "CREATE_UNIT"
)

// AuditLogEntry - неизменяемая запись журнала аудита.
// Пишется в той же транзакции, что и само изменение
type AuditLogEntry struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Action    AuditAction     `json:"action"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	OldData   json.RawMessage `json:"old_data,omitempty"`
	NewData   json.RawMessage `json:"new_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// AnonymousUserID - маркер анонимного репортера в журнале аудита
const AnonymousUserID = "anonymous"
