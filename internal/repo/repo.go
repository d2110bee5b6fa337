package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"leaseline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- deals ---

const dealColumns = `id,title,COALESCE(client_name,''),status_key,owner_role,COALESCE(stage_title,''),next_action,payload_json,cancel_reason,cancelled_at,created_at,updated_at`

func scanDeal(row *sql.Row) (domain.Deal, error) {
	var d domain.Deal
	var ownerRole, nextAction, cancelReason, cancelledAt sql.NullString
	var payload string
	err := row.Scan(&d.ID, &d.Title, &d.ClientName, &d.StatusKey, &ownerRole, &d.StageTitle, &nextAction, &payload, &cancelReason, &cancelledAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if ownerRole.Valid {
		d.OwnerRole = &ownerRole.String
	}
	if nextAction.Valid {
		d.NextAction = &nextAction.String
	}
	if cancelReason.Valid {
		d.CancelReason = &cancelReason.String
	}
	if cancelledAt.Valid {
		d.CancelledAt = &cancelledAt.String
	}
	if err := json.Unmarshal([]byte(payload), &d.Payload); err != nil {
		return d, fmt.Errorf("deal %s payload: %w", d.ID, err)
	}
	return d, nil
}

func (r Repo) InsertDeal(ctx context.Context, tx *sql.Tx, d domain.Deal) error {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO deals(id,title,client_name,status_key,owner_role,stage_title,next_action,payload_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Title, nullable(d.ClientName), d.StatusKey, nullableStringPtr(d.OwnerRole), nullable(d.StageTitle),
		nullableStringPtr(d.NextAction), string(payload), d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDeal(ctx context.Context, id string) (domain.Deal, error) {
	return scanDeal(r.DB.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id=?`, id))
}

func (r Repo) GetDealTx(ctx context.Context, tx *sql.Tx, id string) (domain.Deal, error) {
	return scanDeal(tx.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id=?`, id))
}

// UpdateDeal rewrites the mutable columns of a deal row.
func (r Repo) UpdateDeal(ctx context.Context, tx *sql.Tx, d domain.Deal) error {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE deals SET title=?, client_name=?, status_key=?, owner_role=?, stage_title=?, next_action=?, payload_json=?, cancel_reason=?, cancelled_at=?, updated_at=? WHERE id=?`,
		d.Title, nullable(d.ClientName), d.StatusKey, nullableStringPtr(d.OwnerRole), nullable(d.StageTitle),
		nullableStringPtr(d.NextAction), string(payload), nullableStringPtr(d.CancelReason), nullableStringPtr(d.CancelledAt), d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type DealFilters struct {
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListDeals(ctx context.Context, f DealFilters) ([]domain.Deal, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status_key=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + dealColumns + ` FROM deals`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deal
	for rows.Next() {
		var d domain.Deal
		var ownerRole, nextAction, cancelReason, cancelledAt sql.NullString
		var payload string
		if err := rows.Scan(&d.ID, &d.Title, &d.ClientName, &d.StatusKey, &ownerRole, &d.StageTitle, &nextAction, &payload, &cancelReason, &cancelledAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if ownerRole.Valid {
			d.OwnerRole = &ownerRole.String
		}
		if nextAction.Valid {
			d.NextAction = &nextAction.String
		}
		if cancelReason.Valid {
			d.CancelReason = &cancelReason.String
		}
		if cancelledAt.Valid {
			d.CancelledAt = &cancelledAt.String
		}
		if err := json.Unmarshal([]byte(payload), &d.Payload); err != nil {
			return nil, fmt.Errorf("deal %s payload: %w", d.ID, err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// --- tasks ---

const taskColumns = `id,deal_id,type,title,status,COALESCE(assignee_role,''),assignee_id,guard_key,guard_label,requires_document,required_types_json,fields_json,note,due_at,sla_status,created_at,updated_at,completed_at`

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var assigneeID, guardKey, guardLabel, requiredTypes, fields, note, dueAt, slaStatus, completedAt sql.NullString
	var requiresDoc int
	err := scan(&t.ID, &t.DealID, &t.Type, &t.Title, &t.Status, &t.AssigneeRole, &assigneeID, &guardKey, &guardLabel,
		&requiresDoc, &requiredTypes, &fields, &note, &dueAt, &slaStatus, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.RequiresDocument = requiresDoc != 0
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if guardKey.Valid {
		t.GuardKey = &guardKey.String
	}
	if guardLabel.Valid {
		t.GuardLabel = &guardLabel.String
	}
	if requiredTypes.Valid && requiredTypes.String != "" {
		if err := json.Unmarshal([]byte(requiredTypes.String), &t.RequiredTypes); err != nil {
			return t, fmt.Errorf("task %s required_types: %w", t.ID, err)
		}
	}
	if fields.Valid && fields.String != "" {
		if err := json.Unmarshal([]byte(fields.String), &t.Fields); err != nil {
			return t, fmt.Errorf("task %s fields: %w", t.ID, err)
		}
	}
	if note.Valid {
		t.Note = &note.String
	}
	if dueAt.Valid {
		t.DueAt = &dueAt.String
	}
	if slaStatus.Valid {
		t.SLAStatus = &slaStatus.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func taskArgs(t domain.Task) ([]any, error) {
	requiredTypes, err := marshalOrNil(t.RequiredTypes)
	if err != nil {
		return nil, err
	}
	fields, err := marshalMapOrNil(t.Fields)
	if err != nil {
		return nil, err
	}
	return []any{
		t.DealID, t.Type, t.Title, t.Status, nullable(t.AssigneeRole), nullableStringPtr(t.AssigneeID),
		nullableStringPtr(t.GuardKey), nullableStringPtr(t.GuardLabel), boolInt(t.RequiresDocument),
		requiredTypes, fields, nullableStringPtr(t.Note), nullableStringPtr(t.DueAt), nullableStringPtr(t.SLAStatus),
	}, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	args = append([]any{t.ID}, args...)
	args = append(args, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id,deal_id,type,title,status,assignee_role,assignee_id,guard_key,guard_label,requires_document,required_types_json,fields_json,note,due_at,sla_status,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	args = append(args, t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET deal_id=?, type=?, title=?, status=?, assignee_role=?, assignee_id=?, guard_key=?, guard_label=?, requires_document=?, required_types_json=?, fields_json=?, note=?, due_at=?, sla_status=?, updated_at=?, completed_at=? WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTaskRow(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTaskRow(row.Scan)
}

// ClaimTask assigns the task to actorID only if nobody holds it and the
// status is still the one the caller observed. A zero row count means a
// concurrent claim won.
func (r Repo) ClaimTask(ctx context.Context, tx *sql.Tx, taskID, actorID, observedStatus, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET assignee_id=?, updated_at=? WHERE id=? AND assignee_id IS NULL AND status=?`,
		actorID, now, taskID, observedStatus)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type TaskFilters struct {
	DealID          string
	Status          string
	GuardKey        string
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.DealID != "" {
		clauses = append(clauses, "deal_id=?")
		args = append(args, f.DealID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.GuardKey != "" {
		clauses = append(clauses, "guard_key=?")
		args = append(args, f.GuardKey)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- documents ---

const documentColumns = `id,deal_id,type,COALESCE(category,''),file_name,storage_path,metadata_json,COALESCE(uploaded_by,''),created_at`

func scanDocumentRow(scan func(dest ...any) error) (domain.Document, error) {
	var doc domain.Document
	var metadata string
	err := scan(&doc.ID, &doc.DealID, &doc.Type, &doc.Category, &doc.FileName, &doc.StoragePath, &metadata, &doc.UploadedBy, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return doc, fmt.Errorf("document %s metadata: %w", doc.ID, err)
		}
	}
	return doc, nil
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, doc domain.Document) error {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO documents(id,deal_id,type,category,file_name,storage_path,metadata_json,uploaded_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		doc.ID, doc.DealID, doc.Type, nullable(doc.Category), doc.FileName, doc.StoragePath, string(metadata), nullable(doc.UploadedBy), doc.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id)
	return scanDocumentRow(row.Scan)
}

func (r Repo) listDocuments(ctx context.Context, q querier, dealID string) ([]domain.Document, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE deal_id=? ORDER BY created_at ASC, id ASC`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		doc, err := scanDocumentRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, rows.Err()
}

func (r Repo) ListDealDocuments(ctx context.Context, dealID string) ([]domain.Document, error) {
	return r.listDocuments(ctx, r.DB, dealID)
}

func (r Repo) ListDealDocumentsTx(ctx context.Context, tx *sql.Tx, dealID string) ([]domain.Document, error) {
	return r.listDocuments(ctx, tx, dealID)
}

func (r Repo) DeleteDocument(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDocumentSuperseded flags a document as replaced without deleting it.
func (r Repo) MarkDocumentSuperseded(ctx context.Context, tx *sql.Tx, id string) error {
	doc, err := scanDocumentRow(tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id).Scan)
	if err != nil {
		return err
	}
	doc.Metadata.Superseded = true
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE documents SET metadata_json=? WHERE id=?`, string(metadata), id)
	return err
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, dealID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if dealID != "" {
		clauses = append(clauses, "deal_id=?")
		args = append(args, dealID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,COALESCE(deal_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(deal_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id > ? ORDER BY id ASC`
	args := []any{cursor}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.DealID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func marshalOrNil(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalMapOrNil(in map[string]any) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
