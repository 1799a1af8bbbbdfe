package core

import (
	"sort"
	"time"
)

// FallbackLocale is used when a message has no entry for the requested
// locale.
const FallbackLocale = "en-US"

// LocalizedText maps locale tags to translated text.
type LocalizedText map[string]string

// Text returns the translation for locale, falling back to
// [FallbackLocale] and then to the empty string.
func (t LocalizedText) Text(locale string) string {
	if s, ok := t[locale]; ok {
		return s
	}
	return t[FallbackLocale]
}

// TimeWindow is the availability interval of a rule, inclusive on both
// ends.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, boundaries included.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Rule is one configured scenario: an unlockable item an attendee can view
// and consume. Rules are immutable once constructed.
type Rule struct {
	ID       string
	Order    int
	Messages map[string]LocalizedText
	Window   TimeWindow
	Show     Condition
	Unlock   Condition
	Metadata map[string]any
}

// IsVisible reports whether the rule appears in listings for the context's
// attendee.
func (r *Rule) IsVisible(ctx Context) bool {
	return r.Show.Evaluate(ctx)
}

// IsUsable reports whether the rule can be consumed right now: the unlock
// condition holds, the time window is open, and the attendee has not
// already consumed it.
func (r *Rule) IsUsable(ctx Context) bool {
	return r.Unlock.Evaluate(ctx) &&
		r.Window.Contains(ctx.Now) &&
		!ctx.Attendee.HasUsedRule(r.ID)
}

// Message returns the localized message bundle for messageID, or nil when
// the rule defines none. No interpolation is performed.
func (r *Rule) Message(messageID string) LocalizedText {
	return r.Messages[messageID]
}

// Ruleset is the immutable set of all rules configured for an event,
// keyed by rule ID.
type Ruleset struct {
	rules map[string]*Rule
}

// NewRuleset builds a Ruleset from rules. Later duplicates of an ID win.
func NewRuleset(rules ...*Rule) *Ruleset {
	byID := make(map[string]*Rule, len(rules))
	for _, rule := range rules {
		byID[rule.ID] = rule
	}
	return &Ruleset{rules: byID}
}

// Rule returns the rule with the given ID.
func (s *Ruleset) Rule(id string) (*Rule, bool) {
	rule, ok := s.rules[id]
	return rule, ok
}

// Len returns the number of rules in the set.
func (s *Ruleset) Len() int { return len(s.rules) }

// Rules returns all rules sorted by ID for deterministic iteration.
func (s *Ruleset) Rules() []*Rule {
	rules := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}
