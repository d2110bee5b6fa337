package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"leaseline/internal/catalog"
	"leaseline/internal/config"
	"leaseline/internal/domain"
	"leaseline/internal/events"
	"leaseline/internal/repo"
	"leaseline/internal/storage"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Store  storage.Store
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ErrTaskAlreadyDone rejects completing a task twice.
var ErrTaskAlreadyDone = errors.New("task already completed")

// DealCreateOptions are parameters for creating a deal.
type DealCreateOptions struct {
	ID         string
	Title      string
	ClientName string
	Fields     map[string]any
	ActorID    string
}

// CreateDeal opens a deal at the start of the pipeline and creates the
// first stage's entry tasks.
func (e Engine) CreateDeal(ctx context.Context, opts DealCreateOptions) (domain.Deal, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Deal{}, errors.New("title is required")
	}
	stage, _ := catalog.ByKey(catalog.StageNew)
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	d := domain.Deal{
		ID:         id,
		Title:      opts.Title,
		ClientName: opts.ClientName,
		StatusKey:  stage.Key,
		StageTitle: stage.Title,
		OwnerRole:  optionalString(string(stage.OwnerRole)),
		NextAction: firstEntryAction(stage),
		Payload: domain.DealPayload{
			GuardTasks: map[string]domain.GuardTaskState{},
			Fields:     opts.Fields,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deal{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDeal(ctx, tx, d); err != nil {
		return domain.Deal{}, fmt.Errorf("insert deal: %w", err)
	}
	if err := e.createEntryTasks(ctx, tx, d, stage, opts.ActorID); err != nil {
		return domain.Deal{}, err
	}
	if err := e.Events.Append(ctx, tx, "deal.created", d.ID, "deal", d.ID, opts.ActorID, events.EventPayload{
		"title":  d.Title,
		"status": d.StatusKey,
	}); err != nil {
		return domain.Deal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Deal{}, err
	}
	return d, nil
}

// createEntryTasks opens one task per exit guard of the entered stage.
func (e Engine) createEntryTasks(ctx context.Context, tx *sql.Tx, d domain.Deal, stage catalog.Stage, actorID string) error {
	now := e.nowString()
	for _, g := range stage.ExitGuards {
		taskType, ok := catalog.TaskTypeForGuard(g.Key)
		if !ok {
			return fmt.Errorf("guard %s has no task type", g.Key)
		}
		due := e.now().UTC().Add(time.Duration(e.slaHours(stage)) * time.Hour).Format(time.RFC3339)
		required := g.RequiredTypes
		if g.Key == catalog.GuardDocsUploaded && len(required) == 0 {
			required = catalog.DefaultRequiredDocs
		}
		t := domain.Task{
			ID:               uuid.New().String(),
			DealID:           d.ID,
			Type:             taskType,
			Title:            g.Label,
			Status:           domain.TaskOpen,
			AssigneeRole:     string(stage.OwnerRole),
			GuardKey:         optionalString(g.Key),
			GuardLabel:       optionalString(g.Label),
			RequiresDocument: g.RequiresDocument,
			RequiredTypes:    required,
			DueAt:            &due,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return fmt.Errorf("insert task %s: %w", taskType, err)
		}
		if err := e.Events.Append(ctx, tx, "task.created", d.ID, "task", t.ID, actorID, events.EventPayload{
			"type":      t.Type,
			"guard_key": g.Key,
			"stage":     stage.Key,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) slaHours(stage catalog.Stage) int {
	if e.Config != nil {
		return e.Config.StageSLAHours(stage)
	}
	return stage.SLAHours
}

// TransitionOptions are parameters for a manual stage transition.
type TransitionOptions struct {
	DealID       string
	ToStatus     string
	ActorID      string
	ActorRoles   []catalog.Role
	GuardContext map[string]any
}

// TransitionDeal enforces the pipeline order, the stage's exit role and
// every exit guard, then advances the deal in a single write. Rejections
// leave persisted state untouched.
func (e Engine) TransitionDeal(ctx context.Context, opts TransitionOptions) (domain.Deal, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deal{}, err
	}
	defer tx.Rollback()

	// Validate against the row as persisted right now, not a cached view;
	// a losing concurrent transition fails the order check naturally.
	d, err := e.Repo.GetDealTx(ctx, tx, opts.DealID)
	if err != nil {
		return domain.Deal{}, err
	}
	d, err = e.applyTransition(ctx, tx, d, opts.ToStatus, opts.ActorRoles, opts.GuardContext, opts.ActorID)
	if err != nil {
		return domain.Deal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Deal{}, err
	}
	return d, nil
}

// applyTransition is the state machine core shared by manual transitions
// and the task-completion cascade. It runs inside the caller's tx.
func (e Engine) applyTransition(ctx context.Context, tx *sql.Tx, d domain.Deal, toStatus string, roles []catalog.Role, guardCtx map[string]any, actorID string) (domain.Deal, error) {
	from := d.StatusKey
	stage, ok := catalog.ByKey(from)
	if !ok || catalog.Index(toStatus) < 0 {
		return d, TransitionError{Reason: ReasonUnknownTransition, From: from, To: toStatus}
	}
	next, hasNext := catalog.Next(from)
	if !hasNext || next.Key != toStatus {
		return d, TransitionError{Reason: ReasonOrderViolation, From: from, To: toStatus}
	}
	actingRole, ok := resolveExitRole(stage, roles)
	if !ok {
		return d, TransitionError{Reason: ReasonRoleViolation, From: from, To: toStatus, Role: joinRoles(roles)}
	}
	docs, err := e.Repo.ListDealDocumentsTx(ctx, tx, d.ID)
	if err != nil {
		return d, err
	}
	for _, g := range stage.ExitGuards {
		if !e.GuardSatisfied(g, d, docs, guardCtx) {
			return d, TransitionError{Reason: ReasonGuardViolation, From: from, To: toStatus, Guard: g.Key, GuardLabel: g.Label}
		}
	}

	d.StatusKey = next.Key
	d.StageTitle = next.Title
	d.OwnerRole = optionalString(string(next.OwnerRole))
	d.NextAction = firstEntryAction(next)
	d.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateDeal(ctx, tx, d); err != nil {
		return d, err
	}
	if !next.Terminal() {
		if err := e.createEntryTasks(ctx, tx, d, next, actorID); err != nil {
			return d, err
		}
	}
	if err := e.Events.Append(ctx, tx, "deal.transitioned", d.ID, "deal", d.ID, actorID, events.EventPayload{
		"from": from,
		"to":   next.Key,
		"role": string(actingRole),
	}); err != nil {
		return d, err
	}
	return d, nil
}

// resolveExitRole picks the role the transition is recorded under. The
// stage's exit role wins; supervisors may stand in for it, except that
// contract readiness transitions are always recorded as OP_MANAGER.
func resolveExitRole(stage catalog.Stage, roles []catalog.Role) (catalog.Role, bool) {
	for _, r := range roles {
		if r == stage.ExitRole {
			return r, true
		}
	}
	for _, r := range roles {
		if catalog.IsSupervisor(r) {
			if _, gated := catalog.GuardFor(stage, catalog.GuardContractReady); gated {
				return catalog.RoleOpManager, true
			}
			return r, true
		}
	}
	return "", false
}

func joinRoles(roles []catalog.Role) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}

// CancelDeal moves a deal to CANCELLED through the dedicated side path.
// Supervisors only; terminal deals cannot be cancelled again.
func (e Engine) CancelDeal(ctx context.Context, dealID, reason, actorID string, roles []catalog.Role) (domain.Deal, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Deal{}, errors.New("cancel reason is required")
	}
	supervisor := false
	for _, r := range roles {
		if catalog.IsSupervisor(r) {
			supervisor = true
			break
		}
	}
	if !supervisor {
		return domain.Deal{}, TransitionError{Reason: ReasonRoleViolation, To: catalog.StageCancelled, Role: joinRoles(roles)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deal{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDealTx(ctx, tx, dealID)
	if err != nil {
		return domain.Deal{}, err
	}
	stage, ok := catalog.ByKey(d.StatusKey)
	if !ok {
		return domain.Deal{}, fmt.Errorf("deal %s has unknown stage %s", d.ID, d.StatusKey)
	}
	if stage.Terminal() {
		return domain.Deal{}, ErrDealTerminal
	}
	from := d.StatusKey
	now := e.nowString()
	cancelled, _ := catalog.ByKey(catalog.StageCancelled)
	d.StatusKey = cancelled.Key
	d.StageTitle = cancelled.Title
	d.OwnerRole = nil
	d.NextAction = nil
	d.CancelReason = &reason
	d.CancelledAt = &now
	d.UpdatedAt = now
	if err := e.Repo.UpdateDeal(ctx, tx, d); err != nil {
		return domain.Deal{}, err
	}
	if err := e.Events.Append(ctx, tx, "deal.cancelled", d.ID, "deal", d.ID, actorID, events.EventPayload{
		"from":   from,
		"reason": reason,
	}); err != nil {
		return domain.Deal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Deal{}, err
	}
	return d, nil
}

// ClaimTask assigns an unassigned task to the actor. The write is
// conditional on the status and assignee observed inside the same tx, so
// exactly one of two concurrent claimers wins.
func (e Engine) ClaimTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.AssigneeID != nil {
		if *t.AssigneeID == actorID {
			return t, nil
		}
		return domain.Task{}, ErrClaimConflict
	}
	if t.Status == domain.TaskDone {
		return domain.Task{}, ErrTaskAlreadyDone
	}
	now := e.nowString()
	claimed, err := e.Repo.ClaimTask(ctx, tx, t.ID, actorID, t.Status, now)
	if err != nil {
		return domain.Task{}, err
	}
	if !claimed {
		return domain.Task{}, ErrClaimConflict
	}
	if err := e.Events.Append(ctx, tx, "task.claimed", t.DealID, "task", t.ID, actorID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.AssigneeID = &actorID
	t.UpdatedAt = now
	return t, nil
}

// Completion intents.
const (
	IntentSave     = "save"
	IntentComplete = "complete"
)

// DocumentUpload is one file submitted with a task form or the documents
// endpoint. Content uploads go through the blob store first; ExistingRef
// records a blob that is already stored.
type DocumentUpload struct {
	Type        string
	FileName    string
	Content     []byte
	ExistingRef string
	Optional    bool
}

// TaskCompleteOptions are the inputs of a task form submission.
type TaskCompleteOptions struct {
	TaskID     string
	Intent     string
	Fields     map[string]any
	Note       string
	Documents  []DocumentUpload
	ActorID    string
	ActorRoles []catalog.Role
}

// TaskCompletionResult reports what the completion cascade did.
type TaskCompletionResult struct {
	Task         domain.Task
	Deal         domain.Deal
	Transitioned bool
	FromStatus   string
	ToStatus     string
	// Outcome is a user-presentable summary: the transition happened, the
	// task completed with nothing to advance, or what blocks progress.
	Outcome      string
	BlockedGuard string
	BlockedLabel string
}

// CompleteTask is the orchestration point for a submitted task form. See
// TaskCompleteOptions for the inputs; rejections are typed so the API can
// tell the user exactly why nothing moved.
func (e Engine) CompleteTask(ctx context.Context, opts TaskCompleteOptions) (TaskCompletionResult, error) {
	var res TaskCompletionResult
	intent := opts.Intent
	if intent == "" {
		intent = IntentComplete
	}
	if intent != IntentSave && intent != IntentComplete {
		return res, fmt.Errorf("unknown intent %q", intent)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return res, err
	}
	if t.Status == domain.TaskDone {
		return res, ErrTaskAlreadyDone
	}
	d, err := e.Repo.GetDealTx(ctx, tx, t.DealID)
	if err != nil {
		return res, err
	}
	guardKey := catalog.GuardKeyForTask(t.Type, deref(t.GuardKey))
	now := e.nowString()

	// Step 1: claim. Completing an unassigned task claims it atomically;
	// a concurrent claimer aborts the whole submission.
	if intent == IntentComplete {
		if t.AssigneeID == nil {
			claimed, err := e.Repo.ClaimTask(ctx, tx, t.ID, opts.ActorID, t.Status, now)
			if err != nil {
				return res, err
			}
			if !claimed {
				return res, ErrClaimConflict
			}
			t.AssigneeID = &opts.ActorID
		} else if *t.AssigneeID != opts.ActorID {
			return res, ErrClaimConflict
		}
	}

	docs, err := e.Repo.ListDealDocumentsTx(ctx, tx, d.ID)
	if err != nil {
		return res, err
	}

	// Step 2: document-gated tasks need an attachment, a prior upload or a
	// satisfied checklist before anything is persisted.
	if intent == IntentComplete && t.RequiresDocument && len(opts.Documents) == 0 {
		if !e.guardHasBackingDocument(d, guardKey, t.RequiredTypes, docs) {
			return res, DocumentRequiredError{GuardKey: guardKey}
		}
	}

	// Step 3: persist uploads, tagged with the guard and owning deal. The
	// blob write and the record insert are a saga: a failed insert deletes
	// the blob it just stored.
	for _, upload := range opts.Documents {
		doc, err := e.recordUpload(ctx, tx, d, t, guardKey, upload, docs, now, opts.ActorID)
		if err != nil {
			return res, err
		}
		docs = append(docs, doc)
	}

	// Step 4: merge submitted field values; unspecified fields keep prior
	// values.
	if len(opts.Fields) > 0 {
		if t.Fields == nil {
			t.Fields = map[string]any{}
		}
		for k, v := range opts.Fields {
			t.Fields[k] = v
		}
	}
	if strings.TrimSpace(opts.Note) != "" {
		note := opts.Note
		t.Note = &note
	}

	if intent == IntentSave {
		if t.Status == domain.TaskOpen {
			t.Status = domain.TaskInProgress
		}
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return res, err
		}
		if err := e.Events.Append(ctx, tx, "task.updated", d.ID, "task", t.ID, opts.ActorID, events.EventPayload{
			"intent": IntentSave,
			"status": t.Status,
		}); err != nil {
			return res, err
		}
		if err := tx.Commit(); err != nil {
			return res, err
		}
		res.Task = t
		res.Deal = d
		res.Outcome = "draft saved"
		return res, nil
	}

	// Step 5: re-run the checklist against the updated document set. On a
	// miss the task stays IN_PROGRESS with its uploads and fields kept, and
	// the rejection names the unfulfilled types.
	requiredTypes := t.RequiredTypes
	checklist := e.EvaluateChecklist(d.ID, guardKey, requiredTypes, docs)
	if !checklist.Fulfilled {
		if t.Status == domain.TaskOpen {
			t.Status = domain.TaskInProgress
		}
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return res, err
		}
		if err := e.Events.Append(ctx, tx, "task.updated", d.ID, "task", t.ID, opts.ActorID, events.EventPayload{
			"intent":  IntentComplete,
			"blocked": "missing_documents",
			"missing": checklist.Missing(),
		}); err != nil {
			return res, err
		}
		if err := tx.Commit(); err != nil {
			return res, err
		}
		return res, MissingDocumentsError{GuardKey: guardKey, Missing: checklist.Missing()}
	}

	// Step 6: the task itself completes.
	t.Status = domain.TaskDone
	t.CompletedAt = &now
	t.SLAStatus = deriveSLAStatus(t.DueAt, e.now())
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return res, err
	}

	// Step 7: write the guard snapshot into the deal payload.
	d = e.writeGuardState(d, t, guardKey, requiredTypes, docs, now)
	d.UpdatedAt = now
	if err := e.Repo.UpdateDeal(ctx, tx, d); err != nil {
		return res, err
	}
	if err := e.Events.Append(ctx, tx, "task.completed", d.ID, "task", t.ID, opts.ActorID, events.EventPayload{
		"guard_key":  guardKey,
		"sla_status": deref(t.SLAStatus),
	}); err != nil {
		return res, err
	}

	// Step 8: try to advance the deal. A guard outside the current stage's
	// exit guards means the task completed with nothing to advance.
	res.Task = t
	res.Deal = d
	res.FromStatus = d.StatusKey
	stage, _ := catalog.ByKey(d.StatusKey)
	if _, gated := catalog.GuardFor(stage, guardKey); !gated {
		res.Outcome = "task completed; no stage transition is gated by this guard"
		if err := tx.Commit(); err != nil {
			return res, err
		}
		return res, nil
	}
	next, hasNext := catalog.Next(d.StatusKey)
	if !hasNext {
		res.Outcome = "task completed; deal is at the end of the pipeline"
		if err := tx.Commit(); err != nil {
			return res, err
		}
		return res, nil
	}
	advanced, err := e.applyTransition(ctx, tx, d, next.Key, opts.ActorRoles, nil, opts.ActorID)
	if err != nil {
		var te TransitionError
		if errors.As(err, &te) {
			// Completing every guard's task is necessary but the transition
			// is the actual gate: the task stays DONE either way.
			res.Deal = d
			res.BlockedGuard = te.Guard
			res.BlockedLabel = te.GuardLabel
			res.Outcome = blockedOutcome(te)
			if commitErr := tx.Commit(); commitErr != nil {
				return res, commitErr
			}
			return res, nil
		}
		return res, err
	}
	res.Deal = advanced
	res.Transitioned = true
	res.ToStatus = advanced.StatusKey
	res.Outcome = fmt.Sprintf("deal advanced to %s", advanced.StatusKey)
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

func blockedOutcome(te TransitionError) string {
	switch te.Reason {
	case ReasonGuardViolation:
		return fmt.Sprintf("task completed; transition blocked by guard %q", te.GuardLabel)
	case ReasonRoleViolation:
		return "task completed; transition requires a different role"
	default:
		return "task completed; transition not available"
	}
}

// guardHasBackingDocument reports whether the guard already has a document
// behind it: a prior matching upload or a satisfied required-type checklist.
func (e Engine) guardHasBackingDocument(d domain.Deal, guardKey string, requiredTypes []string, docs []domain.Document) bool {
	if len(requiredTypes) > 0 {
		return e.EvaluateChecklist(d.ID, guardKey, requiredTypes, docs).Fulfilled
	}
	return documentGuardSatisfied(guardKey, d.ID, docs)
}

// recordUpload stores one blob (unless it already exists) and inserts the
// document record tagged with the guard context. A non-optional upload
// supersedes earlier copies of the same type on the same guard; prior entries
// in the passed slice get their flag updated in place.
func (e Engine) recordUpload(ctx context.Context, tx *sql.Tx, d domain.Deal, t domain.Task, guardKey string, upload DocumentUpload, prior []domain.Document, now, actorID string) (domain.Document, error) {
	if !upload.Optional {
		norm := catalog.NormalizeDocumentType(upload.Type)
		for i := range prior {
			p := &prior[i]
			if p.Metadata.GuardKey != guardKey || p.Metadata.GuardDealID != d.ID || p.Metadata.Superseded {
				continue
			}
			if catalog.NormalizeDocumentType(p.Type) != norm {
				continue
			}
			if err := e.Repo.MarkDocumentSuperseded(ctx, tx, p.ID); err != nil {
				return domain.Document{}, err
			}
			p.Metadata.Superseded = true
		}
	}

	ref := upload.ExistingRef
	storedNew := false
	if ref == "" {
		if e.Store == nil {
			return domain.Document{}, UploadError{FileName: upload.FileName, Err: errors.New("no document store configured")}
		}
		var err error
		ref, err = e.Store.Save(ctx, d.ID, guardKey, upload.FileName, bytes.NewReader(upload.Content))
		if err != nil {
			return domain.Document{}, UploadError{FileName: upload.FileName, Err: err}
		}
		storedNew = true
	}
	doc := domain.Document{
		ID:          uuid.New().String(),
		DealID:      d.ID,
		Type:        catalog.NormalizeDocumentType(upload.Type),
		Category:    "deal",
		FileName:    upload.FileName,
		StoragePath: ref,
		Metadata: domain.DocumentMetadata{
			UploadContext:     "task_completion",
			GuardKey:          guardKey,
			GuardLabel:        deref(t.GuardLabel),
			GuardDocumentType: catalog.NormalizeDocumentType(upload.Type),
			GuardDealID:       d.ID,
			ChecklistOptional: upload.Optional,
		},
		UploadedBy: actorID,
		CreatedAt:  now,
	}
	if err := e.Repo.InsertDocument(ctx, tx, doc); err != nil {
		if storedNew {
			// Compensating delete keeps the store free of orphans; the
			// caller sees a retryable failure either way.
			if delErr := e.Store.Delete(ctx, ref); delErr != nil {
				return domain.Document{}, UploadError{FileName: upload.FileName, Err: errors.Join(err, delErr)}
			}
		}
		return domain.Document{}, UploadError{FileName: upload.FileName, Err: err}
	}
	if err := e.Events.Append(ctx, tx, "document.recorded", d.ID, "document", doc.ID, actorID, events.EventPayload{
		"type":      doc.Type,
		"guard_key": guardKey,
	}); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// writeGuardState updates guard_tasks, the nested guard flag and the docs
// checklist cache on the deal payload after a completion.
func (e Engine) writeGuardState(d domain.Deal, t domain.Task, guardKey string, requiredTypes []string, docs []domain.Document, now string) domain.Deal {
	if d.Payload.GuardTasks == nil {
		d.Payload.GuardTasks = map[string]domain.GuardTaskState{}
	}
	state := domain.GuardTaskState{
		Fulfilled:     true,
		Note:          t.Note,
		CompletedAt:   &now,
		RequiredTypes: requiredTypes,
		TaskType:      t.Type,
		TaskID:        t.ID,
	}
	for _, doc := range docs {
		if doc.Metadata.GuardKey == guardKey && doc.Metadata.GuardDealID == d.ID && !doc.Metadata.Superseded {
			path := doc.StoragePath
			docType := doc.Type
			state.AttachmentPath = &path
			state.DocumentType = &docType
		}
	}
	d.Payload.GuardTasks[guardKey] = state
	d.Payload.Flags = setPath(d.Payload.Flags, guardKey, true)
	return e.refreshDocsCache(d, docs)
}

// refreshDocsCache recomputes payload.docs.required.allUploaded from the
// live document set. The cache is always re-derivable; it is never treated
// as a source of truth.
func (e Engine) refreshDocsCache(d domain.Deal, docs []domain.Document) domain.Deal {
	required := e.docsGuardRequiredTypes(d)
	if len(required) == 0 {
		// No recorded requirement set imposes nothing.
		d.Payload.Docs.Required.AllUploaded = true
		return d
	}
	checklist := e.EvaluateChecklist(d.ID, catalog.GuardDocsUploaded, required, docs)
	d.Payload.Docs.Required.AllUploaded = checklist.Fulfilled
	return d
}

// docsGuardRequiredTypes returns the mandatory type list for the document
// collection guard: the list last recorded on the guard snapshot, falling
// back to the default client document set.
func (e Engine) docsGuardRequiredTypes(d domain.Deal) []string {
	if st, ok := d.Payload.GuardTasks[catalog.GuardDocsUploaded]; ok && len(st.RequiredTypes) > 0 {
		return st.RequiredTypes
	}
	return catalog.DefaultRequiredDocs
}

// deriveSLAStatus compares the completion moment with the due time.
func deriveSLAStatus(dueAt *string, completed time.Time) *string {
	if dueAt == nil || *dueAt == "" {
		return nil
	}
	due, err := time.Parse(time.RFC3339, *dueAt)
	if err != nil {
		return nil
	}
	status := domain.SLAOnTrack
	if completed.After(due) {
		status = domain.SLABreached
	}
	return &status
}

// ReopenTask reverts a completed task to IN_PROGRESS with a reason. The
// deal's stage is untouched, but the guard snapshot the completion wrote is
// cleared so the guard is no longer fulfilled.
func (e Engine) ReopenTask(ctx context.Context, taskID, reason, actorID string) (domain.Task, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Task{}, errors.New("reopen reason is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.TaskDone {
		return domain.Task{}, fmt.Errorf("task %s is not completed", t.ID)
	}
	d, err := e.Repo.GetDealTx(ctx, tx, t.DealID)
	if err != nil {
		return domain.Task{}, err
	}
	guardKey := catalog.GuardKeyForTask(t.Type, deref(t.GuardKey))
	now := e.nowString()

	t.Status = domain.TaskInProgress
	t.CompletedAt = nil
	t.SLAStatus = nil
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}

	if st, ok := d.Payload.GuardTasks[guardKey]; ok {
		st.Fulfilled = false
		st.CompletedAt = nil
		d.Payload.GuardTasks[guardKey] = st
	}
	deletePath(d.Payload.Flags, guardKey)
	docs, err := e.Repo.ListDealDocumentsTx(ctx, tx, d.ID)
	if err != nil {
		return domain.Task{}, err
	}
	d = e.refreshDocsCache(d, docs)
	d.UpdatedAt = now
	if err := e.Repo.UpdateDeal(ctx, tx, d); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.reopened", d.ID, "task", t.ID, actorID, events.EventPayload{
		"reason":    reason,
		"guard_key": guardKey,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DocumentRecordOptions are parameters for recording a document outside a
// task form.
type DocumentRecordOptions struct {
	DealID   string
	GuardKey string
	Upload   DocumentUpload
	ActorID  string
}

// RecordDocument runs the upload-then-record saga for a standalone upload
// and refreshes the checklist cache.
func (e Engine) RecordDocument(ctx context.Context, opts DocumentRecordOptions) (domain.Document, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDealTx(ctx, tx, opts.DealID)
	if err != nil {
		return domain.Document{}, err
	}
	now := e.nowString()
	prior, err := e.Repo.ListDealDocumentsTx(ctx, tx, d.ID)
	if err != nil {
		return domain.Document{}, err
	}
	doc, err := e.recordUpload(ctx, tx, d, domain.Task{}, opts.GuardKey, opts.Upload, prior, now, opts.ActorID)
	if err != nil {
		return domain.Document{}, err
	}
	docs := append(prior, doc)
	d = e.refreshDocsCache(d, docs)
	d.UpdatedAt = now
	if err := e.Repo.UpdateDeal(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// RemoveDocument deletes a document record, refreshes the checklist cache
// and then removes the blob. A failed blob delete is reported so the caller
// can retry the cleanup; the record stays gone.
func (e Engine) RemoveDocument(ctx context.Context, docID, actorID string) error {
	doc, err := e.Repo.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDealTx(ctx, tx, doc.DealID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteDocument(ctx, tx, doc.ID); err != nil {
		return err
	}
	docs, err := e.Repo.ListDealDocumentsTx(ctx, tx, d.ID)
	if err != nil {
		return err
	}
	d = e.refreshDocsCache(d, docs)
	d.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateDeal(ctx, tx, d); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "document.removed", d.ID, "document", doc.ID, actorID, events.EventPayload{
		"type": doc.Type,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if e.Store != nil {
		if err := e.Store.Delete(ctx, doc.StoragePath); err != nil {
			return UploadError{FileName: doc.FileName, Err: err}
		}
	}
	return nil
}

// ReconcileChecklist recomputes the checklist for a guard from the live
// document set and rewrites the payload cache when it drifted.
func (e Engine) ReconcileChecklist(ctx context.Context, dealID, guardKey string) (ChecklistResult, domain.Deal, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ChecklistResult{}, domain.Deal{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDealTx(ctx, tx, dealID)
	if err != nil {
		return ChecklistResult{}, domain.Deal{}, err
	}
	docs, err := e.Repo.ListDealDocumentsTx(ctx, tx, d.ID)
	if err != nil {
		return ChecklistResult{}, domain.Deal{}, err
	}
	required := e.requiredTypesForGuard(d, guardKey)
	checklist := e.EvaluateChecklist(d.ID, guardKey, required, docs)
	before := d.Payload.Docs.Required.AllUploaded
	d = e.refreshDocsCache(d, docs)
	if d.Payload.Docs.Required.AllUploaded != before {
		d.UpdatedAt = e.nowString()
		if err := e.Repo.UpdateDeal(ctx, tx, d); err != nil {
			return ChecklistResult{}, domain.Deal{}, err
		}
		if err := e.Events.Append(ctx, tx, "deal.checklist.synced", d.ID, "deal", d.ID, "system", events.EventPayload{
			"all_uploaded": d.Payload.Docs.Required.AllUploaded,
		}); err != nil {
			return ChecklistResult{}, domain.Deal{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return ChecklistResult{}, domain.Deal{}, err
	}
	return checklist, d, nil
}

// requiredTypesForGuard resolves the requirement list for a guard: the
// catalogue's list, an open task's list, or the recorded guard snapshot.
func (e Engine) requiredTypesForGuard(d domain.Deal, guardKey string) []string {
	if stage, ok := catalog.ByKey(d.StatusKey); ok {
		if g, ok := catalog.GuardFor(stage, guardKey); ok && len(g.RequiredTypes) > 0 {
			return g.RequiredTypes
		}
	}
	if st, ok := d.Payload.GuardTasks[guardKey]; ok && len(st.RequiredTypes) > 0 {
		return st.RequiredTypes
	}
	if guardKey == catalog.GuardDocsUploaded {
		return catalog.DefaultRequiredDocs
	}
	return nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstEntryAction(stage catalog.Stage) *string {
	if len(stage.EntryActions) == 0 {
		return nil
	}
	return optionalString(stage.EntryActions[0])
}
