package engine

import (
	"testing"

	"leaseline/internal/catalog"
	"leaseline/internal/config"
	"leaseline/internal/domain"
)

func TestResolvePath(t *testing.T) {
	m := map[string]any{
		"risk": map[string]any{"approved": true},
		"payments": map[string]any{
			"advanceReceived": "yes",
		},
	}
	if v, ok := resolvePath(m, "risk.approved"); !ok || v != true {
		t.Fatalf("risk.approved = %v ok=%v", v, ok)
	}
	if _, ok := resolvePath(m, "risk.missing.deep"); ok {
		t.Fatal("missing segments must resolve to not-found")
	}
	if _, ok := resolvePath(m, "payments.advanceReceived.extra"); ok {
		t.Fatal("walking through a leaf must fail, not panic")
	}
}

func TestSetAndDeletePath(t *testing.T) {
	m := setPath(nil, "esign.allSigned", true)
	if v, ok := resolvePath(m, "esign.allSigned"); !ok || v != true {
		t.Fatalf("setPath did not write: %v ok=%v", v, ok)
	}
	deletePath(m, "esign.allSigned")
	if _, ok := resolvePath(m, "esign.allSigned"); ok {
		t.Fatal("deletePath did not remove the value")
	}
}

func TestDeepMergeOverlaysWithoutMutating(t *testing.T) {
	base := map[string]any{
		"risk": map[string]any{"approved": false, "score": 42},
	}
	overlay := map[string]any{
		"risk": map[string]any{"approved": true},
	}
	merged := deepMerge(base, overlay)
	if v, _ := resolvePath(merged, "risk.approved"); v != true {
		t.Fatal("overlay must win")
	}
	if v, _ := resolvePath(merged, "risk.score"); v != 42 {
		t.Fatal("untouched base keys must survive the merge")
	}
	if v, _ := resolvePath(base, "risk.approved"); v != false {
		t.Fatal("merge must not mutate the base map")
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{true, "true", "YES", "1", 1, int64(2), 0.5} {
		if !truthy(v) {
			t.Errorf("truthy(%v) = false", v)
		}
	}
	for _, v := range []any{false, "false", "no", "", 0, 0.0, nil, []string{"true"}} {
		if truthy(v) {
			t.Errorf("truthy(%v) = true", v)
		}
	}
}

func TestGuardSatisfiedFromFlags(t *testing.T) {
	e := Engine{Config: config.Default()}
	g := catalog.Guard{Key: catalog.GuardRiskApproved}
	deal := domain.Deal{ID: "deal-1", Payload: domain.DealPayload{
		Flags: map[string]any{"risk": map[string]any{"approved": true}},
	}}
	if !e.GuardSatisfied(g, deal, nil, nil) {
		t.Fatal("persisted flag must satisfy the guard")
	}
	deal.Payload.Flags = nil
	if e.GuardSatisfied(g, deal, nil, nil) {
		t.Fatal("missing path must degrade to false")
	}
}

func TestGuardSatisfiedFromGuardContext(t *testing.T) {
	e := Engine{Config: config.Default()}
	g := catalog.Guard{Key: catalog.GuardFinanceApproved}
	deal := domain.Deal{ID: "deal-1"}
	ctx := map[string]any{"finance": map[string]any{"approved": "yes"}}
	if !e.GuardSatisfied(g, deal, nil, ctx) {
		t.Fatal("inline guard context must satisfy the guard")
	}
}

func TestGuardContextOverridesPersistedFlags(t *testing.T) {
	e := Engine{Config: config.Default()}
	g := catalog.Guard{Key: catalog.GuardInvestor}
	deal := domain.Deal{ID: "deal-1", Payload: domain.DealPayload{
		Flags: map[string]any{"investor": map[string]any{"approved": true}},
	}}
	ctx := map[string]any{"investor": map[string]any{"approved": false}}
	if e.GuardSatisfied(g, deal, nil, ctx) {
		t.Fatal("inline context must override the persisted flag")
	}
}

func TestDocsGuardReadsCacheAndContext(t *testing.T) {
	e := Engine{Config: config.Default()}
	g := catalog.Guard{Key: catalog.GuardDocsUploaded}
	deal := domain.Deal{ID: "deal-1"}
	deal.Payload.Docs.Required.AllUploaded = true
	if !e.GuardSatisfied(g, deal, nil, nil) {
		t.Fatal("cache true must satisfy the docs guard")
	}
	ctx := map[string]any{"docs": map[string]any{"required": map[string]any{"allUploaded": false}}}
	if e.GuardSatisfied(g, deal, nil, ctx) {
		t.Fatal("inline context must override the cache")
	}
}

func TestChecklistBackedGuardDelegatesToMatcher(t *testing.T) {
	e := Engine{Config: config.Default()}
	g := catalog.Guard{Key: catalog.GuardQuotation, RequiresDocument: true, RequiredTypes: []string{catalog.DocQuotation}}
	deal := domain.Deal{ID: "deal-1", Payload: domain.DealPayload{
		// A stale flag must not shortcut the checklist.
		Flags: map[string]any{"quotationPrepared": true},
	}}
	if e.GuardSatisfied(g, deal, nil, nil) {
		t.Fatal("checklist-backed guard must require a document")
	}
	docs := []domain.Document{doc("deal-1", catalog.DocQuotation, "", false, false)}
	if !e.GuardSatisfied(g, deal, docs, nil) {
		t.Fatal("matching upload must satisfy the guard")
	}
}

func TestDocumentTypeGuard(t *testing.T) {
	e := Engine{Config: config.Default()}
	g := catalog.Guard{Key: catalog.DocTechnicalReport}
	deal := domain.Deal{ID: "deal-1"}
	if e.GuardSatisfied(g, deal, nil, nil) {
		t.Fatal("no upload, guard must be unmet")
	}
	docs := []domain.Document{doc("deal-1", catalog.DocTechnicalReport, "", false, false)}
	if !e.GuardSatisfied(g, deal, docs, nil) {
		t.Fatal("one matching upload satisfies a type-keyed guard")
	}
}
