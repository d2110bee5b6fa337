package engine

import (
	"strings"

	"leaseline/internal/catalog"
	"leaseline/internal/domain"
)

// GuardSatisfied answers "is guard g fulfilled for this deal right now".
// It is a pure read: unresolvable paths degrade to false, never to an
// error. guardCtx carries inline values supplied with a transition request
// and is deep-merged over the deal's persisted flags.
func (e Engine) GuardSatisfied(g catalog.Guard, deal domain.Deal, docs []domain.Document, guardCtx map[string]any) bool {
	// Checklist-backed guards delegate entirely to the matcher.
	if len(g.RequiredTypes) > 0 {
		return e.EvaluateChecklist(deal.ID, g.Key, g.RequiredTypes, docs).Fulfilled
	}
	if g.Key == catalog.GuardDocsUploaded {
		if v, ok := resolvePath(guardCtx, g.Key); ok {
			return truthy(v)
		}
		return deal.Payload.Docs.Required.AllUploaded
	}
	// A guard keyed by a document type is satisfied by one matching upload.
	if catalog.KnownDocumentType(g.Key) {
		if documentGuardSatisfied(g.Key, deal.ID, docs) {
			return true
		}
	}
	if st, ok := deal.Payload.GuardTasks[g.Key]; ok && st.Fulfilled {
		return true
	}
	merged := deepMerge(deal.Payload.Flags, guardCtx)
	if v, ok := resolvePath(merged, g.Key); ok {
		return truthy(v)
	}
	return false
}

// documentGuardSatisfied reports whether a non-excluded document backs the
// guard, either by type equality or by an explicit guard_key tag.
func documentGuardSatisfied(guardKey, dealID string, docs []domain.Document) bool {
	want := catalog.NormalizeDocumentType(guardKey)
	for _, doc := range docs {
		if excludedFromGuard(doc, guardKey, dealID) {
			continue
		}
		if catalog.NormalizeDocumentType(doc.Type) == want {
			return true
		}
		if doc.Metadata.GuardKey == guardKey {
			return true
		}
	}
	return false
}

// excludedFromGuard applies the shared exclusion rules: optional and
// superseded uploads never count, a guard_key tag scopes the upload to that
// guard only, and a guard_deal_id tag scopes it to one deal.
func excludedFromGuard(doc domain.Document, guardKey, dealID string) bool {
	if doc.Metadata.ChecklistOptional || doc.Metadata.Superseded {
		return true
	}
	if doc.Metadata.GuardKey != "" && doc.Metadata.GuardKey != guardKey {
		return true
	}
	if doc.Metadata.GuardDealID != "" && doc.Metadata.GuardDealID != dealID {
		return true
	}
	return false
}

// resolvePath walks a dotted path through nested maps. Missing segments
// resolve to (nil, false).
func resolvePath(m map[string]any, dotted string) (any, bool) {
	if len(m) == 0 || dotted == "" {
		return nil, false
	}
	segments := strings.Split(dotted, ".")
	var cur any = m
	for _, seg := range segments {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath writes a value at a dotted path, creating intermediate maps. Non
// map intermediates are replaced.
func setPath(m map[string]any, dotted string, value any) map[string]any {
	if m == nil {
		m = map[string]any{}
	}
	segments := strings.Split(dotted, ".")
	node := m
	for i, seg := range segments {
		if i == len(segments)-1 {
			node[seg] = value
			break
		}
		next, ok := node[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[seg] = next
		}
		node = next
	}
	return m
}

// deletePath removes the value at a dotted path if present.
func deletePath(m map[string]any, dotted string) {
	if len(m) == 0 || dotted == "" {
		return
	}
	segments := strings.Split(dotted, ".")
	node := m
	for i, seg := range segments {
		if i == len(segments)-1 {
			delete(node, seg)
			return
		}
		next, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		node = next
	}
}

// deepMerge overlays b on a, recursing into maps only. Neither input is
// mutated.
func deepMerge(a, b map[string]any) map[string]any {
	if len(b) == 0 {
		return a
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, ok := out[k].(map[string]any); ok {
			if overlay, ok := v.(map[string]any); ok {
				out[k] = deepMerge(existing, overlay)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// truthy mirrors how guard rule values are interpreted: booleans as-is,
// strings "true"/"yes"/"1" as true, numbers by non-zero.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true
		}
		return false
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return false
	}
}
