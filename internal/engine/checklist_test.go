package engine

import (
	"reflect"
	"testing"

	"leaseline/internal/catalog"
	"leaseline/internal/config"
	"leaseline/internal/domain"
)

func doc(dealID, docType, guardKey string, optional, superseded bool) domain.Document {
	return domain.Document{
		ID:     "doc-" + docType,
		DealID: dealID,
		Type:   docType,
		Metadata: domain.DocumentMetadata{
			GuardKey:          guardKey,
			GuardDealID:       dealID,
			ChecklistOptional: optional,
			Superseded:        superseded,
		},
	}
}

func TestChecklistEmptyRequirementIsFulfilled(t *testing.T) {
	e := Engine{Config: config.Default()}
	res := e.EvaluateChecklist("deal-1", catalog.GuardDocsUploaded, nil, nil)
	if !res.Fulfilled {
		t.Fatal("empty required list must aggregate to fulfilled")
	}
	if len(res.Items) != 0 {
		t.Fatalf("expected no items, got %d", len(res.Items))
	}
}

func TestChecklistNamesMissingTypes(t *testing.T) {
	e := Engine{Config: &config.Config{}}
	required := []string{catalog.DocPassport, catalog.DocEmiratesID}
	docs := []domain.Document{doc("deal-1", catalog.DocPassport, "", false, false)}
	res := e.EvaluateChecklist("deal-1", catalog.GuardDocsUploaded, required, docs)
	if res.Fulfilled {
		t.Fatal("emirates_id is missing; aggregate must be false")
	}
	if got := res.Missing(); !reflect.DeepEqual(got, []string{catalog.DocEmiratesID}) {
		t.Fatalf("missing = %v", got)
	}
}

func TestChecklistNormalizesAndDeduplicates(t *testing.T) {
	e := Engine{Config: &config.Config{}}
	required := []string{"eid", "EID", " emirates_id "}
	docs := []domain.Document{doc("deal-1", "Emirates-ID", "", false, false)}
	res := e.EvaluateChecklist("deal-1", catalog.GuardDocsUploaded, required, docs)
	if len(res.Items) != 1 {
		t.Fatalf("aliases must collapse to one item, got %d", len(res.Items))
	}
	if !res.Fulfilled {
		t.Fatal("aliased upload should fulfill the aliased requirement")
	}
}

func TestChecklistExclusions(t *testing.T) {
	e := Engine{Config: &config.Config{}}
	required := []string{catalog.DocPassport}

	cases := map[string]domain.Document{
		"optional":      doc("deal-1", catalog.DocPassport, "", true, false),
		"superseded":    doc("deal-1", catalog.DocPassport, "", false, true),
		"foreign guard": doc("deal-1", catalog.DocPassport, "some.other.guard", false, false),
	}
	foreign := doc("deal-2", catalog.DocPassport, "", false, false)
	foreign.Metadata.GuardDealID = "deal-2"
	cases["foreign deal"] = foreign

	for name, d := range cases {
		res := e.EvaluateChecklist("deal-1", catalog.GuardDocsUploaded, required, []domain.Document{d})
		if res.Fulfilled {
			t.Errorf("%s document must not satisfy the checklist", name)
		}
	}

	// Same guard tag counts.
	tagged := doc("deal-1", catalog.DocPassport, catalog.GuardDocsUploaded, false, false)
	res := e.EvaluateChecklist("deal-1", catalog.GuardDocsUploaded, required, []domain.Document{tagged})
	if !res.Fulfilled {
		t.Fatal("document tagged with the evaluated guard must count")
	}
}

func TestChecklistDisabledTypesListedButNeverBlock(t *testing.T) {
	cfg := &config.Config{}
	cfg.Checklist.DisabledTypes = []string{catalog.DocOther}
	e := Engine{Config: cfg}
	res := e.EvaluateChecklist("deal-1", catalog.GuardDocsUploaded, []string{catalog.DocOther, catalog.DocPassport},
		[]domain.Document{doc("deal-1", catalog.DocPassport, "", false, false)})
	if !res.Fulfilled {
		t.Fatal("disabled type must not block the aggregate")
	}
	if len(res.Items) != 2 {
		t.Fatalf("disabled type must still be listed, got %d items", len(res.Items))
	}
}

func TestChecklistIsIdempotent(t *testing.T) {
	e := Engine{Config: &config.Config{}}
	required := []string{catalog.DocPassport, catalog.DocEmiratesID}
	docs := []domain.Document{doc("deal-1", catalog.DocPassport, "", false, false)}
	first := e.EvaluateChecklist("deal-1", catalog.GuardDocsUploaded, required, docs)
	second := e.EvaluateChecklist("deal-1", catalog.GuardDocsUploaded, required, docs)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("evaluation must be a pure function of its inputs")
	}
}
