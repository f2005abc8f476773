package models

import "time"

// AuditAction constants represent schedule actions to be logged.
const (
	AuditActionEntryCreate     = "ENTRY_CREATE"
	AuditActionEntryUpdate     = "ENTRY_UPDATE"
	AuditActionEntryCancel     = "ENTRY_CANCEL"
	AuditActionEntryArchive    = "ENTRY_ARCHIVE"
	AuditActionConflictResolve = "CONFLICT_RESOLVE"
	AuditActionScopePublish    = "SCOPE_PUBLISH"
	AuditActionScopeReopen     = "SCOPE_REOPEN"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
