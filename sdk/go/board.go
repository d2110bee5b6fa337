package leaselinesdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Feedback categories for a rejected board move.
const (
	FeedbackOrder   = "order"
	FeedbackRole    = "role"
	FeedbackGuard   = "guard"
	FeedbackGeneric = "generic"
)

// MoveResult reports what happened to a board move. Rejected moves carry a
// user-presentable message and the category the UI styles it with.
type MoveResult struct {
	Applied  bool
	Deal     Deal
	Category string
	Message  string
}

// Board is an optimistic kanban view over the deal pipeline. Moving a card
// updates the local column immediately; the server's verdict then either
// confirms the move or reverts it entirely.
type Board struct {
	client *Client

	mu      sync.Mutex
	columns map[string][]string // stage key -> ordered deal ids
	deals   map[string]Deal
}

// NewBoard creates a board backed by the given client.
func NewBoard(client *Client) *Board {
	return &Board{
		client:  client,
		columns: map[string][]string{},
		deals:   map[string]Deal{},
	}
}

// Refresh replaces the local state with the server's deal list.
func (b *Board) Refresh(ctx context.Context) error {
	items, err := b.client.ListDeals(ctx, "")
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.columns = map[string][]string{}
	b.deals = map[string]Deal{}
	for _, d := range items {
		b.deals[d.ID] = d
		b.columns[d.Status] = append(b.columns[d.Status], d.ID)
	}
	return nil
}

// Column returns the deal ids currently shown in a stage column.
func (b *Board) Column(stage string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.columns[stage]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Deal returns the local copy of a deal.
func (b *Board) Deal(id string) (Deal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.deals[id]
	return d, ok
}

// Move drags a card to another column. The local state changes first; a
// server rejection reverts the card to its previous column and returns the
// classified feedback instead of an error.
func (b *Board) Move(ctx context.Context, dealID, toStatus string, guardContext map[string]any) (MoveResult, error) {
	b.mu.Lock()
	prev, ok := b.deals[dealID]
	if !ok {
		b.mu.Unlock()
		return MoveResult{}, fmt.Errorf("deal %s not on the board", dealID)
	}
	from := prev.Status
	b.applyLocked(dealID, from, toStatus)
	b.mu.Unlock()

	updated, err := b.client.Transition(ctx, dealID, toStatus, guardContext)
	if err != nil {
		b.mu.Lock()
		b.applyLocked(dealID, toStatus, from)
		b.deals[dealID] = prev
		b.mu.Unlock()

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return MoveResult{
				Category: classify(apiErr.Code),
				Message:  apiErr.Message,
			}, nil
		}
		return MoveResult{}, err
	}

	b.mu.Lock()
	b.deals[dealID] = updated
	if updated.Status != toStatus {
		b.applyLocked(dealID, toStatus, updated.Status)
	}
	b.mu.Unlock()
	return MoveResult{Applied: true, Deal: updated}, nil
}

// applyLocked moves a card between columns. Callers hold b.mu.
func (b *Board) applyLocked(dealID, from, to string) {
	ids := b.columns[from]
	for i, id := range ids {
		if id == dealID {
			b.columns[from] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	b.columns[to] = append(b.columns[to], dealID)
	if d, ok := b.deals[dealID]; ok {
		d.Status = to
		b.deals[dealID] = d
	}
}

// classify maps envelope codes onto the board's feedback categories.
func classify(code string) string {
	switch code {
	case "order_violation", "unknown_transition":
		return FeedbackOrder
	case "role_violation", "forbidden":
		return FeedbackRole
	case "guard_violation", "missing_documents", "document_required":
		return FeedbackGuard
	default:
		return FeedbackGeneric
	}
}
