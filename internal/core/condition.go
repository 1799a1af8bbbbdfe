// Package core implements the rule evaluation engine for the event
// companion backend. It is pure: no I/O, no clocks, no shared mutable
// state. Callers assemble a [Context] from an attendee snapshot and a
// single sampled timestamp, then evaluate a [Ruleset] against it.
package core

import "time"

// Context is the immutable input for one evaluation pass. All rules in a
// single pass see the same attendee snapshot and the same instant.
type Context struct {
	Attendee *Attendee
	Now      time.Time
	// Privileged marks staff-mode queries. It suppresses check-in side
	// effects upstream but never changes condition outcomes; role-based
	// gating belongs in the conditions themselves.
	Privileged bool
}

// Condition is a boolean predicate over attendee state. The variant set is
// closed: AlwaysTrue, Attribute, UsedRule, And, Or.
type Condition interface {
	Evaluate(ctx Context) bool
}

// AlwaysTrue matches any context. It is the default for rules configured
// without an explicit show or unlock condition.
type AlwaysTrue struct{}

func (AlwaysTrue) Evaluate(Context) bool { return true }

// Attribute matches when the attendee carries the given attribute with a
// strictly equal value. An absent key never matches, and values of
// different JSON kinds never match (the number 1 is not the string "1").
type Attribute struct {
	Key   string
	Value any
}

func (c Attribute) Evaluate(ctx Context) bool {
	value, ok := ctx.Attendee.Attribute(c.Key)
	return ok && scalarEqual(value, c.Value)
}

// UsedRule matches when the attendee has a recorded consumption for the
// referenced rule. It consults the attendee's ledger, not the referenced
// rule's own verdict, so chains of UsedRule conditions cannot recurse.
type UsedRule struct {
	RuleID string
}

func (c UsedRule) Evaluate(ctx Context) bool { return ctx.Attendee.HasUsedRule(c.RuleID) }

// And is the conjunction of its children. An empty And is vacuously true.
type And struct {
	Children []Condition
}

func (c And) Evaluate(ctx Context) bool {
	for _, child := range c.Children {
		if !child.Evaluate(ctx) {
			return false
		}
	}
	return true
}

// Or is the disjunction of its children. An empty Or is vacuously false.
type Or struct {
	Children []Condition
}

func (c Or) Evaluate(ctx Context) bool {
	for _, child := range c.Children {
		if child.Evaluate(ctx) {
			return true
		}
	}
	return false
}

// scalarEqual compares two metadata scalars with strict JSON-kind
// semantics. Numbers are normalized to float64, the kind JSON decoding
// produces, so Go integers compare equal to their decoded counterparts;
// across kinds there is no coercion.
func scalarEqual(left, right any) bool {
	left, right = normalizeScalar(left), normalizeScalar(right)

	switch l := left.(type) {
	case nil:
		return right == nil
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case float64:
		r, ok := right.(float64)
		return ok && l == r
	default:
		return false
	}
}

func normalizeScalar(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return value
	}
}
