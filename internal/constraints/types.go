package constraints

import (
	"fmt"
	"sort"
	"strings"
)

// Unit is one ancestor or descendant pattern: an entity type, optionally
// narrowed by a sub-type set (e.g. specimen category) and by values
// qualifying the sub-type (e.g. an organ code when the sub-type is Organ).
// Nil slices mean "unconstrained", not "empty".
type Unit struct {
	EntityType string   `json:"entity_type"`
	SubType    []string `json:"sub_type,omitempty"`
	SubTypeVal []string `json:"sub_type_val,omitempty"`
}

// Constraint authorizes a set of descendant patterns under one ancestor
// pattern.
type Constraint struct {
	Ancestor    Unit   `json:"ancestor"`
	Descendants []Unit `json:"descendants"`
}

// Entry is one candidate linkage to validate: the declared ancestor unit(s)
// and, when checking a concrete edge, the proposed descendant unit(s).
type Entry struct {
	Ancestors   []Unit `json:"ancestors,omitempty"`
	Descendants []Unit `json:"descendants,omitempty"`
}

// Result is the structured outcome of a validation. Rule lookups that fail
// report here rather than as returned errors, so the calling layer can
// translate them into its own response format. Patterns carries the rule
// side that decided the outcome: the permitted patterns on success, the
// violated rule's patterns on a match-mode rejection.
type Result struct {
	Allowed     bool   `json:"allowed"`
	Status      int    `json:"status"`
	Description string `json:"description"`
	Patterns    []Unit `json:"patterns,omitempty"`
}

// UnknownEntityTypeError reports an entity type outside the loaded
// vocabulary.
type UnknownEntityTypeError struct {
	Value string
}

func (e *UnknownEntityTypeError) Error() string {
	return fmt.Sprintf("no entity type found with value %q", e.Value)
}

// UnknownSubTypeError reports a missing or unrecognized sub-type
// discriminator for an entity type whose rules are authored per sub-type.
type UnknownSubTypeError struct {
	EntityType string
	Value      string
}

func (e *UnknownSubTypeError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("entity type %q requires a sub_type discriminator", e.EntityType)
	}
	return fmt.Sprintf("no %q constraints found with sub_type %q", e.EntityType, e.Value)
}

// satisfies reports whether the candidate unit fulfills the pattern. The
// pattern's nil fields constrain nothing; its non-nil list fields must equal
// the candidate's, compared case-insensitively and order-independently. A
// candidate may therefore be more specific than the pattern, never less.
func satisfies(pattern, candidate Unit) bool {
	if !strings.EqualFold(pattern.EntityType, candidate.EntityType) {
		return false
	}
	if pattern.SubType != nil && !foldSetEqual(pattern.SubType, candidate.SubType) {
		return false
	}
	if pattern.SubTypeVal != nil && !foldSetEqual(pattern.SubTypeVal, candidate.SubTypeVal) {
		return false
	}
	return true
}

func foldSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := foldSorted(a)
	bs := foldSorted(b)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func foldSorted(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	sort.Strings(out)
	return out
}
