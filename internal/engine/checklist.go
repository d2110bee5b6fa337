package engine

import (
	"leaseline/internal/catalog"
	"leaseline/internal/domain"
)

// ChecklistItem is the verdict for one required document type.
type ChecklistItem struct {
	Type      string `json:"type"`
	Fulfilled bool   `json:"fulfilled"`
	Matches   int    `json:"matches"`
}

// ChecklistResult aggregates per-type verdicts. An empty requirement list
// imposes nothing, so it aggregates to fulfilled.
type ChecklistResult struct {
	GuardKey  string          `json:"guard_key,omitempty"`
	Items     []ChecklistItem `json:"items"`
	Fulfilled bool            `json:"fulfilled"`
}

// Missing returns the required types still without a matching document.
func (r ChecklistResult) Missing() []string {
	var out []string
	for _, item := range r.Items {
		if !item.Fulfilled {
			out = append(out, item.Type)
		}
	}
	return out
}

// EvaluateChecklist computes per-type fulfillment for the guard's required
// document types against the deal's uploads. The computation is pure and
// idempotent; it honors the shared exclusion rules plus the configured
// disabled types.
func (e Engine) EvaluateChecklist(dealID, guardKey string, required []string, docs []domain.Document) ChecklistResult {
	disabled := map[string]bool{}
	if e.Config != nil {
		disabled = e.Config.DisabledTypeSet()
	}
	result := ChecklistResult{GuardKey: guardKey, Items: []ChecklistItem{}, Fulfilled: true}
	seen := map[string]bool{}
	for _, raw := range required {
		docType := catalog.NormalizeDocumentType(raw)
		if docType == "" || seen[docType] {
			continue
		}
		seen[docType] = true
		item := ChecklistItem{Type: docType}
		if disabled[docType] {
			// Disabled types are listed but never block.
			item.Fulfilled = true
			result.Items = append(result.Items, item)
			continue
		}
		for _, doc := range docs {
			if excludedFromGuard(doc, guardKey, dealID) {
				continue
			}
			if catalog.NormalizeDocumentType(doc.Type) == docType {
				item.Matches++
			}
		}
		item.Fulfilled = item.Matches > 0
		if !item.Fulfilled {
			result.Fulfilled = false
		}
		result.Items = append(result.Items, item)
	}
	return result
}
