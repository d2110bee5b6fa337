package domain

// Deal is a lease deal moving through the staged pipeline.
type Deal struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	ClientName   string      `json:"client_name,omitempty"`
	StatusKey    string      `json:"status_key"`
	OwnerRole    *string     `json:"owner_role,omitempty"`
	StageTitle   string      `json:"stage_title,omitempty"`
	NextAction   *string     `json:"next_action,omitempty"`
	Payload      DealPayload `json:"payload"`
	CancelReason *string     `json:"cancel_reason,omitempty"`
	CancelledAt  *string     `json:"cancelled_at,omitempty" format:"date-time"`
	CreatedAt    string      `json:"created_at" format:"date-time"`
	UpdatedAt    string      `json:"updated_at" format:"date-time"`
}

// DealPayload is the JSON-shaped state the workflow engine owns on a deal.
// GuardTasks and Docs are caches derived from tasks and documents; Flags
// holds the nested guard booleans addressed by dotted guard keys; Fields
// accumulates submitted task form values.
type DealPayload struct {
	GuardTasks map[string]GuardTaskState `json:"guard_tasks,omitempty"`
	Docs       DocsState                 `json:"docs"`
	Flags      map[string]any            `json:"flags,omitempty"`
	Fields     map[string]any            `json:"fields,omitempty"`
}

// GuardTaskState is the per-guard snapshot written when a task completes.
type GuardTaskState struct {
	Fulfilled      bool     `json:"fulfilled"`
	Note           *string  `json:"note,omitempty"`
	AttachmentPath *string  `json:"attachment_path,omitempty"`
	DocumentType   *string  `json:"document_type,omitempty"`
	CompletedAt    *string  `json:"completed_at,omitempty" format:"date-time"`
	RequiredTypes  []string `json:"required_types,omitempty"`
	TaskType       string   `json:"task_type,omitempty"`
	TaskID         string   `json:"task_id,omitempty"`
}

type DocsState struct {
	Required RequiredDocsState `json:"required"`
}

type RequiredDocsState struct {
	AllUploaded bool `json:"allUploaded"`
}

// Task statuses.
const (
	TaskOpen       = "OPEN"
	TaskInProgress = "IN_PROGRESS"
	TaskDone       = "DONE"
)

// SLA statuses derived at completion time.
const (
	SLAOnTrack  = "ON_TRACK"
	SLABreached = "BREACHED"
)

// Task is a unit of staff work tied to one guard of the deal pipeline.
type Task struct {
	ID               string         `json:"id"`
	DealID           string         `json:"deal_id"`
	Type             string         `json:"type"`
	Title            string         `json:"title"`
	Status           string         `json:"status" enum:"OPEN,IN_PROGRESS,DONE"`
	AssigneeRole     string         `json:"assignee_role,omitempty"`
	AssigneeID       *string        `json:"assignee_id,omitempty"`
	GuardKey         *string        `json:"guard_key,omitempty"`
	GuardLabel       *string        `json:"guard_label,omitempty"`
	RequiresDocument bool           `json:"requires_document"`
	RequiredTypes    []string       `json:"required_types,omitempty"`
	Fields           map[string]any `json:"fields,omitempty"`
	Note             *string        `json:"note,omitempty"`
	DueAt            *string        `json:"due_at,omitempty" format:"date-time"`
	SLAStatus        *string        `json:"sla_status,omitempty" enum:"ON_TRACK,BREACHED"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	UpdatedAt        string         `json:"updated_at" format:"date-time"`
	CompletedAt      *string        `json:"completed_at,omitempty" format:"date-time"`
}

// Document is an uploaded file attached to a deal.
type Document struct {
	ID          string           `json:"id"`
	DealID      string           `json:"deal_id"`
	Type        string           `json:"type"`
	Category    string           `json:"category,omitempty"`
	FileName    string           `json:"file_name"`
	StoragePath string           `json:"storage_path"`
	Metadata    DocumentMetadata `json:"metadata"`
	UploadedBy  string           `json:"uploaded_by,omitempty"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
}

// DocumentMetadata links an upload back to the guard it was uploaded for
// and carries the flags the checklist matcher honors.
type DocumentMetadata struct {
	UploadContext     string `json:"upload_context,omitempty"`
	GuardKey          string `json:"guard_key,omitempty"`
	GuardLabel        string `json:"guard_label,omitempty"`
	GuardDocumentType string `json:"guard_document_type,omitempty"`
	GuardDealID       string `json:"guard_deal_id,omitempty"`
	// ChecklistOptional marks an upload that must not count toward the
	// mandatory checklist; Superseded marks a replaced upload.
	ChecklistOptional bool `json:"checklist_optional,omitempty"`
	Superseded        bool `json:"superseded,omitempty"`
}

// Event is one audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DealID     string `json:"deal_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Roles     string `json:"roles,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
