package leaselinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeAPI serves the deal list and a scripted transition verdict.
type fakeAPI struct {
	deals          []Deal
	transitionCode string // empty means accept
	transitionHits int
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0/deals", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.deals)
	})
	mux.HandleFunc("/v0/deals/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/transition") {
			http.NotFound(w, r)
			return
		}
		f.transitionHits++
		var body struct {
			ToStatus string `json:"to_status"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if f.transitionCode != "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"code":    f.transitionCode,
					"message": "rejected by server",
				},
			})
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v0/deals/"), "/transition")
		for _, d := range f.deals {
			if d.ID == id {
				d.Status = body.ToStatus
				json.NewEncoder(w).Encode(d)
				return
			}
		}
		http.NotFound(w, r)
	})
	return mux
}

func newBoard(t *testing.T, api *fakeAPI) (*Board, func()) {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	board := NewBoard(New(srv.URL))
	if err := board.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return board, srv.Close
}

func TestBoardMoveApplied(t *testing.T) {
	api := &fakeAPI{deals: []Deal{
		{ID: "d1", Title: "Deal one", Status: "NEW"},
		{ID: "d2", Title: "Deal two", Status: "NEW"},
	}}
	board, done := newBoard(t, api)
	defer done()

	res, err := board.Move(context.Background(), "d1", "OFFER_PREP", nil)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !res.Applied || res.Deal.Status != "OFFER_PREP" {
		t.Fatalf("move result = %+v", res)
	}
	if got := board.Column("OFFER_PREP"); len(got) != 1 || got[0] != "d1" {
		t.Fatalf("OFFER_PREP column = %v", got)
	}
	if got := board.Column("NEW"); len(got) != 1 || got[0] != "d2" {
		t.Fatalf("NEW column = %v", got)
	}
}

func TestBoardMoveRevertsOnRejection(t *testing.T) {
	api := &fakeAPI{
		deals:          []Deal{{ID: "d1", Title: "Deal one", Status: "NEW"}},
		transitionCode: "guard_violation",
	}
	board, done := newBoard(t, api)
	defer done()

	res, err := board.Move(context.Background(), "d1", "OFFER_PREP", nil)
	if err != nil {
		t.Fatalf("rejected move must not surface as an error: %v", err)
	}
	if res.Applied {
		t.Fatal("rejected move reported as applied")
	}
	if res.Category != FeedbackGuard || res.Message == "" {
		t.Fatalf("feedback = %+v", res)
	}
	// The card is back where it started.
	if got := board.Column("NEW"); len(got) != 1 || got[0] != "d1" {
		t.Fatalf("NEW column after revert = %v", got)
	}
	if got := board.Column("OFFER_PREP"); len(got) != 0 {
		t.Fatalf("OFFER_PREP column after revert = %v", got)
	}
	d, _ := board.Deal("d1")
	if d.Status != "NEW" {
		t.Fatalf("local deal status after revert = %s", d.Status)
	}
	if api.transitionHits != 1 {
		t.Fatalf("transition calls = %d", api.transitionHits)
	}
}

func TestBoardMoveUnknownDeal(t *testing.T) {
	board, done := newBoard(t, &fakeAPI{})
	defer done()
	if _, err := board.Move(context.Background(), "ghost", "OFFER_PREP", nil); err == nil {
		t.Fatal("moving an unknown card must fail")
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]string{
		"order_violation":    FeedbackOrder,
		"unknown_transition": FeedbackOrder,
		"role_violation":     FeedbackRole,
		"forbidden":          FeedbackRole,
		"guard_violation":    FeedbackGuard,
		"missing_documents":  FeedbackGuard,
		"document_required":  FeedbackGuard,
		"internal":           FeedbackGeneric,
		"":                   FeedbackGeneric,
	}
	for code, want := range cases {
		if got := classify(code); got != want {
			t.Errorf("classify(%q) = %s, want %s", code, got, want)
		}
	}
}
