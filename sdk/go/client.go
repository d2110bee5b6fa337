// Package leaselinesdk is a minimal Go client for the Leaseline HTTP API.
package leaselinesdk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Leaseline server.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Deal is the API deal model (partial).
type Deal struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	ClientName  string         `json:"client_name,omitempty"`
	Status      string         `json:"status"`
	StageTitle  string         `json:"stage_title,omitempty"`
	OwnerRole   *string        `json:"owner_role,omitempty"`
	NextAction  *string        `json:"next_action,omitempty"`
	AllUploaded bool           `json:"all_documents_uploaded"`
	Fields      map[string]any `json:"fields,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// Task is the API task model (partial).
type Task struct {
	ID           string  `json:"id"`
	DealID       string  `json:"deal_id"`
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	GuardKey     *string `json:"guard_key,omitempty"`
	DueAt        *string `json:"due_at,omitempty"`
	SLAStatus    *string `json:"sla_status,omitempty"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	AssigneeRole string  `json:"assignee_role,omitempty"`
}

// Document is the API document model.
type Document struct {
	ID         string `json:"id"`
	DealID     string `json:"deal_id"`
	Type       string `json:"type"`
	FileName   string `json:"file_name"`
	StorageRef string `json:"storage_ref"`
	GuardKey   string `json:"guard_key,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Completion reports the result of a task form submission.
type Completion struct {
	Task         Task   `json:"task"`
	Deal         Deal   `json:"deal"`
	Transitioned bool   `json:"transitioned"`
	ToStatus     string `json:"to_status,omitempty"`
	Outcome      string `json:"outcome"`
	BlockedGuard string `json:"blocked_guard,omitempty"`
	BlockedLabel string `json:"blocked_label,omitempty"`
}

// Event is an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	DealID     string         `json:"deal_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses with the parsed envelope when possible.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateDeal creates a deal at the start of the pipeline.
func (c *Client) CreateDeal(ctx context.Context, title, clientName string, fields map[string]any) (Deal, error) {
	body := map[string]any{"title": title}
	if clientName != "" {
		body["client_name"] = clientName
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	var resp Deal
	err := c.do(ctx, http.MethodPost, "v0/deals", body, &resp)
	return resp, err
}

// GetDeal fetches one deal.
func (c *Client) GetDeal(ctx context.Context, id string) (Deal, error) {
	var resp Deal
	err := c.do(ctx, http.MethodGet, "v0/deals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListDeals lists deals, optionally filtered by status.
func (c *Client) ListDeals(ctx context.Context, status string) ([]Deal, error) {
	endpoint := "v0/deals"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Deal
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition asks the server to advance a deal.
func (c *Client) Transition(ctx context.Context, dealID, toStatus string, guardContext map[string]any) (Deal, error) {
	body := map[string]any{"to_status": toStatus}
	if len(guardContext) > 0 {
		body["guard_context"] = guardContext
	}
	var resp Deal
	err := c.do(ctx, http.MethodPost, "v0/deals/"+url.PathEscape(dealID)+"/transition", body, &resp)
	return resp, err
}

// CancelDeal cancels a deal with a reason.
func (c *Client) CancelDeal(ctx context.Context, dealID, reason string) (Deal, error) {
	var resp Deal
	err := c.do(ctx, http.MethodPost, "v0/deals/"+url.PathEscape(dealID)+"/cancel", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// ListTasks lists tasks for a deal.
func (c *Client) ListTasks(ctx context.Context, dealID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "v0/tasks?deal_id="+url.QueryEscape(dealID), nil, &resp)
	return resp, err
}

// ClaimTask claims a task for the authenticated actor.
func (c *Client) ClaimTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(taskID)+"/claim", nil, &resp)
	return resp, err
}

// Upload is one file attached to a task form.
type Upload struct {
	Type     string
	FileName string
	Content  []byte
	Optional bool
}

// CompleteTask submits a task form with the complete intent.
func (c *Client) CompleteTask(ctx context.Context, taskID string, fields map[string]any, note string, uploads []Upload) (Completion, error) {
	body := map[string]any{"intent": "complete"}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	if note != "" {
		body["note"] = note
	}
	if len(uploads) > 0 {
		docs := make([]map[string]any, 0, len(uploads))
		for _, u := range uploads {
			docs = append(docs, map[string]any{
				"type":           u.Type,
				"file_name":      u.FileName,
				"content_base64": base64.StdEncoding.EncodeToString(u.Content),
				"optional":       u.Optional,
			})
		}
		body["documents"] = docs
	}
	var resp Completion
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(taskID)+"/complete", body, &resp)
	return resp, err
}

// ListDocuments lists a deal's documents.
func (c *Client) ListDocuments(ctx context.Context, dealID string) ([]Document, error) {
	var resp []Document
	err := c.do(ctx, http.MethodGet, "v0/deals/"+url.PathEscape(dealID)+"/documents", nil, &resp)
	return resp, err
}

// Events returns the latest audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/events?limit=%d", limit), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return parseAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
