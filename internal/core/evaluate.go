package core

import (
	"sort"
	"time"
)

// RuleResult is the verdict for one rule against one attendee at one
// instant.
type RuleResult struct {
	RuleID     string
	Visible    bool
	Usable     bool
	Used       bool
	UsedAt     *time.Time
	Messages   map[string]LocalizedText
	Attributes map[string]any
	Order      int
	Window     TimeWindow
}

// CurrentMessage picks the message bundle matching the rule's state:
// already_used once consumed, locked while not usable, otherwise the
// requested bundle with "display" as fallback.
func (r *RuleResult) CurrentMessage(messageID string) LocalizedText {
	if r.Used {
		return r.Messages["already_used"]
	}
	if !r.Usable {
		return r.Messages["locked"]
	}
	if message, ok := r.Messages[messageID]; ok {
		return message
	}
	return r.Messages["display"]
}

// Result aggregates the per-rule verdicts of one evaluation pass.
type Result struct {
	results map[string]*RuleResult
}

// Evaluate computes the verdict of every rule in the ruleset for one
// attendee. A single [Context] is shared by all rules, so every verdict in
// the result is judged against the same instant.
func Evaluate(ruleset *Ruleset, attendee *Attendee, now time.Time, privileged bool) *Result {
	ctx := Context{Attendee: attendee, Now: now, Privileged: privileged}

	results := make(map[string]*RuleResult, ruleset.Len())
	for _, rule := range ruleset.Rules() {
		result := &RuleResult{
			RuleID:     rule.ID,
			Visible:    rule.IsVisible(ctx),
			Usable:     rule.IsUsable(ctx),
			Used:       attendee.HasUsedRule(rule.ID),
			Messages:   rule.Messages,
			Attributes: rule.Metadata,
			Order:      rule.Order,
			Window:     rule.Window,
		}
		if usedAt, ok := attendee.RuleUsedAt(rule.ID); ok {
			result.UsedAt = &usedAt
		}
		results[rule.ID] = result
	}

	return &Result{results: results}
}

// Rule returns the verdict for one rule, or nil when the ruleset holds no
// such rule.
func (r *Result) Rule(ruleID string) *RuleResult {
	return r.results[ruleID]
}

// VisibleRules returns the verdicts of all visible rules in presentation
// order: ascending Order, ties broken by rule ID so the output does not
// depend on map iteration.
func (r *Result) VisibleRules() []*RuleResult {
	visible := make([]*RuleResult, 0, len(r.results))
	for _, result := range r.results {
		if result.Visible {
			visible = append(visible, result)
		}
	}

	sort.Slice(visible, func(i, j int) bool {
		if visible[i].Order != visible[j].Order {
			return visible[i].Order < visible[j].Order
		}
		return visible[i].RuleID < visible[j].RuleID
	})

	return visible
}

// HasUsableRules reports whether any rule is both visible and usable.
func (r *Result) HasUsableRules() bool {
	for _, result := range r.results {
		if result.Visible && result.Usable {
			return true
		}
	}
	return false
}
