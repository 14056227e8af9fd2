package match

// Predicate tests a string value and returns true if it matches.
type Predicate func(string) bool

// And returns a predicate that requires all predicates to match.
func And(predicates ...Predicate) Predicate {
	return func(s string) bool {
		for _, p := range predicates {
			if !p(s) {
				return false
			}
		}
		return true
	}
}

// Or returns a predicate that requires at least one predicate to match.
func Or(predicates ...Predicate) Predicate {
	return func(s string) bool {
		for _, p := range predicates {
			if p(s) {
				return true
			}
		}
		return false
	}
}

// Not returns a predicate that inverts the given predicate.
func Not(p Predicate) Predicate {
	return func(s string) bool {
		return !p(s)
	}
}

// Always returns a predicate that always matches.
func Always() Predicate {
	return func(string) bool { return true }
}

// Never returns a predicate that never matches.
func Never() Predicate {
	return func(string) bool { return false }
}

// Field names used by compiled predicates.
const (
	FieldMethod       = "method"
	FieldURL          = "url"
	FieldBody         = "body"
	QueryFieldPrefix  = "query:"
	HeaderFieldPrefix = "header:"
	BodyFieldPrefix   = "body:"
)

// FieldPredicate binds a named field to its compiled predicate.
type FieldPredicate struct {
	Field     string
	Predicate Predicate
}
