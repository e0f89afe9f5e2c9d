package constraints

import "net/http"

// Validate checks a candidate linkage from the ancestor side. The entry's
// first ancestor unit selects the rule table; constraints are scanned in
// declaration order and the first one whose ancestor pattern the candidate
// satisfies decides. Without matchMode that decision is immediate success,
// returning the rule's permitted descendant patterns. With matchMode every
// proposed descendant unit must also satisfy one of those patterns; a
// descendant miss records a rejection and scanning continues, so a later
// rule can still succeed. When nothing succeeds the last recorded rejection
// is returned.
func (e *Engine) Validate(entry Entry, matchMode bool) Result {
	if len(entry.Ancestors) == 0 {
		if matchMode {
			return Result{Status: http.StatusBadRequest, Description: "missing ancestors in entry"}
		}
		return Result{Allowed: true, Status: http.StatusOK, Description: "nothing to validate"}
	}
	ancestor := entry.Ancestors[0]

	rules, err := e.ConstraintsFor(ancestor)
	if err != nil {
		return Result{Status: http.StatusBadRequest, Description: err.Error()}
	}
	if len(rules) == 0 {
		return Result{
			Status:      http.StatusNotFound,
			Description: "no constraints authored for entity type " + ancestor.EntityType,
		}
	}

	last := Result{
		Status:      http.StatusNotFound,
		Description: "no matching constraints on given ancestor",
	}
	for _, rule := range rules {
		if !satisfies(rule.Ancestor, ancestor) {
			continue
		}
		if !matchMode {
			return Result{
				Allowed:     true,
				Status:      http.StatusOK,
				Description: "ancestor pattern matched",
				Patterns:    rule.Descendants,
			}
		}
		if len(entry.Descendants) > 0 && allSatisfyAny(entry.Descendants, rule.Descendants) {
			return Result{
				Allowed:     true,
				Status:      http.StatusOK,
				Description: "linkage permitted",
				Patterns:    rule.Descendants,
			}
		}
		last = Result{
			Status:      http.StatusNotFound,
			Description: "descendant is not permitted under the matched ancestor pattern",
			Patterns:    rule.Descendants,
		}
	}
	return last
}

// ValidateByDescendant answers the reverse question: which ancestor
// patterns may sit above the entry's first descendant unit. It scans the
// descendant type's whole table and collects the ancestor pattern of every
// rule listing a descendant pattern the unit satisfies. With matchMode the
// entry's proposed ancestors must each satisfy one collected pattern.
func (e *Engine) ValidateByDescendant(entry Entry, matchMode bool) Result {
	if len(entry.Descendants) == 0 {
		if matchMode {
			return Result{Status: http.StatusBadRequest, Description: "missing descendants in entry"}
		}
		return Result{Allowed: true, Status: http.StatusOK, Description: "nothing to validate"}
	}
	descendant := entry.Descendants[0]

	rules, err := e.constraintsForType(descendant.EntityType)
	if err != nil {
		return Result{Status: http.StatusBadRequest, Description: err.Error()}
	}

	var ancestors []Unit
	for _, rule := range rules {
		for _, pattern := range rule.Descendants {
			if satisfies(pattern, descendant) {
				ancestors = append(ancestors, rule.Ancestor)
				break
			}
		}
	}
	if len(ancestors) == 0 {
		return Result{
			Status:      http.StatusNotFound,
			Description: "no matching constraints on given descendant",
		}
	}

	if !matchMode {
		return Result{
			Allowed:     true,
			Status:      http.StatusOK,
			Description: "descendant pattern matched",
			Patterns:    ancestors,
		}
	}
	if len(entry.Ancestors) > 0 && allSatisfyAny(entry.Ancestors, ancestors) {
		return Result{
			Allowed:     true,
			Status:      http.StatusOK,
			Description: "linkage permitted",
			Patterns:    ancestors,
		}
	}
	return Result{
		Status:      http.StatusNotFound,
		Description: "ancestor is not permitted above the given descendant",
		Patterns:    ancestors,
	}
}

func allSatisfyAny(units, patterns []Unit) bool {
	for _, u := range units {
		matched := false
		for _, p := range patterns {
			if satisfies(p, u) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
