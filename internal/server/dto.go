package server

import (
	"encoding/json"

	"leaseline/internal/domain"
	"leaseline/internal/engine"
)

// Request payloads

type CreateDealRequest struct {
	ID         *string        `json:"id,omitempty"`
	Title      string         `json:"title"`
	ClientName string         `json:"client_name,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type TransitionRequest struct {
	ToStatus     string         `json:"to_status"`
	GuardContext map[string]any `json:"guard_context,omitempty"`
}

type CancelDealRequest struct {
	Reason string `json:"reason"`
}

type DocumentUploadRequest struct {
	Type          string `json:"type"`
	FileName      string `json:"file_name"`
	ContentBase64 string `json:"content_base64,omitempty"`
	StorageRef    string `json:"storage_ref,omitempty"`
	Optional      bool   `json:"optional,omitempty"`
}

type RecordDocumentRequest struct {
	GuardKey string                `json:"guard_key,omitempty"`
	Document DocumentUploadRequest `json:"document"`
}

type CompleteTaskRequest struct {
	Intent    string                  `json:"intent,omitempty" enum:"save,complete"`
	Fields    map[string]any          `json:"fields,omitempty"`
	Note      string                  `json:"note,omitempty"`
	Documents []DocumentUploadRequest `json:"documents,omitempty"`
}

type ReopenTaskRequest struct {
	Reason string `json:"reason"`
}

// Response payloads

type DealResponse struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	ClientName   string         `json:"client_name,omitempty"`
	Status       string         `json:"status"`
	StageTitle   string         `json:"stage_title,omitempty"`
	OwnerRole    *string        `json:"owner_role,omitempty"`
	NextAction   *string        `json:"next_action,omitempty"`
	CancelReason *string        `json:"cancel_reason,omitempty"`
	CancelledAt  *string        `json:"cancelled_at,omitempty" format:"date-time"`
	GuardTasks   map[string]any `json:"guard_tasks,omitempty"`
	AllUploaded  bool           `json:"all_documents_uploaded"`
	Fields       map[string]any `json:"fields,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
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

type DocumentResponse struct {
	ID         string `json:"id"`
	DealID     string `json:"deal_id"`
	Type       string `json:"type"`
	Category   string `json:"category,omitempty"`
	FileName   string `json:"file_name"`
	StorageRef string `json:"storage_ref"`
	GuardKey   string `json:"guard_key,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
	Superseded bool   `json:"superseded,omitempty"`
	UploadedBy string `json:"uploaded_by,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type ChecklistItemResponse struct {
	Type      string `json:"type"`
	Fulfilled bool   `json:"fulfilled"`
	Matches   int    `json:"matches"`
}

type ChecklistResponse struct {
	GuardKey  string                  `json:"guard_key"`
	Items     []ChecklistItemResponse `json:"items"`
	Fulfilled bool                    `json:"fulfilled"`
	Missing   []string                `json:"missing,omitempty"`
}

type StageResponse struct {
	Key       string          `json:"key"`
	Title     string          `json:"title"`
	OwnerRole string          `json:"owner_role,omitempty"`
	ExitRole  string          `json:"exit_role,omitempty"`
	SLAHours  int             `json:"sla_hours,omitempty"`
	Terminal  bool            `json:"terminal"`
	Guards    []GuardResponse `json:"guards,omitempty"`
}

type GuardResponse struct {
	Key              string   `json:"key"`
	Label            string   `json:"label"`
	Hint             string   `json:"hint,omitempty"`
	RequiresDocument bool     `json:"requires_document"`
	RequiredTypes    []string `json:"required_types,omitempty"`
}

type CompletionResponse struct {
	Task         TaskResponse `json:"task"`
	Deal         DealResponse `json:"deal"`
	Transitioned bool         `json:"transitioned"`
	ToStatus     string       `json:"to_status,omitempty"`
	Outcome      string       `json:"outcome"`
	BlockedGuard string       `json:"blocked_guard,omitempty"`
	BlockedLabel string       `json:"blocked_label,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	DealID     string         `json:"deal_id,omitempty"`
	EntityKind string         `json:"entity_kind,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Mappers

func dealResponse(d domain.Deal) DealResponse {
	guardTasks := map[string]any{}
	for k, v := range d.Payload.GuardTasks {
		guardTasks[k] = v
	}
	return DealResponse{
		ID:           d.ID,
		Title:        d.Title,
		ClientName:   d.ClientName,
		Status:       d.StatusKey,
		StageTitle:   d.StageTitle,
		OwnerRole:    d.OwnerRole,
		NextAction:   d.NextAction,
		CancelReason: d.CancelReason,
		CancelledAt:  d.CancelledAt,
		GuardTasks:   guardTasks,
		AllUploaded:  d.Payload.Docs.Required.AllUploaded,
		Fields:       d.Payload.Fields,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func mapDeals(items []domain.Deal) []DealResponse {
	out := make([]DealResponse, 0, len(items))
	for _, d := range items {
		out = append(out, dealResponse(d))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:               t.ID,
		DealID:           t.DealID,
		Type:             t.Type,
		Title:            t.Title,
		Status:           t.Status,
		AssigneeRole:     t.AssigneeRole,
		AssigneeID:       t.AssigneeID,
		GuardKey:         t.GuardKey,
		GuardLabel:       t.GuardLabel,
		RequiresDocument: t.RequiresDocument,
		RequiredTypes:    t.RequiredTypes,
		Fields:           t.Fields,
		Note:             t.Note,
		DueAt:            t.DueAt,
		SLAStatus:        t.SLAStatus,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func documentResponse(d domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:         d.ID,
		DealID:     d.DealID,
		Type:       d.Type,
		Category:   d.Category,
		FileName:   d.FileName,
		StorageRef: d.StoragePath,
		GuardKey:   d.Metadata.GuardKey,
		Optional:   d.Metadata.ChecklistOptional,
		Superseded: d.Metadata.Superseded,
		UploadedBy: d.UploadedBy,
		CreatedAt:  d.CreatedAt,
	}
}

func mapDocuments(items []domain.Document) []DocumentResponse {
	out := make([]DocumentResponse, 0, len(items))
	for _, d := range items {
		out = append(out, documentResponse(d))
	}
	return out
}

func checklistResponse(c engine.ChecklistResult) ChecklistResponse {
	items := make([]ChecklistItemResponse, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, ChecklistItemResponse{Type: it.Type, Fulfilled: it.Fulfilled, Matches: it.Matches})
	}
	return ChecklistResponse{
		GuardKey:  c.GuardKey,
		Items:     items,
		Fulfilled: c.Fulfilled,
		Missing:   c.Missing(),
	}
}

func eventResponse(e domain.Event) EventResponse {
	var payload map[string]any
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		DealID:     e.DealID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func completionResponse(res engine.TaskCompletionResult) CompletionResponse {
	return CompletionResponse{
		Task:         taskResponse(res.Task),
		Deal:         dealResponse(res.Deal),
		Transitioned: res.Transitioned,
		ToStatus:     res.ToStatus,
		Outcome:      res.Outcome,
		BlockedGuard: res.BlockedGuard,
		BlockedLabel: res.BlockedLabel,
	}
}
