package core

import (
	"testing"
	"time"
)

func TestEvaluateVerdictsShareOneInstant(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	attendee := NewAttendee("token-1", "Aotoki", RoleAudience, nil, nil)

	open := unboundedRule("open")
	closed := unboundedRule("closed")
	closed.Window = TimeWindow{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)}

	result := Evaluate(NewRuleset(open, closed), attendee, now, false)

	if got := result.Rule("open"); got == nil || !got.Usable {
		t.Fatalf("Rule(open) = %+v, want usable", got)
	}
	if got := result.Rule("closed"); got == nil || got.Usable {
		t.Fatalf("Rule(closed) = %+v, want not usable", got)
	}
}

func TestEvaluateReportsConsumption(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	attendee := NewAttendee("token-1", "Aotoki", RoleAudience, nil, map[string]any{
		"_rule_r1": "1700000000",
	})

	result := Evaluate(NewRuleset(unboundedRule("r1"), unboundedRule("r2")), attendee, now, false)

	used := result.Rule("r1")
	if !used.Used || used.Usable {
		t.Fatalf("r1 = used %t usable %t, want used and not usable", used.Used, used.Usable)
	}
	if used.UsedAt == nil || used.UsedAt.Unix() != 1700000000 {
		t.Fatalf("r1.UsedAt = %v, want 1700000000", used.UsedAt)
	}

	fresh := result.Rule("r2")
	if fresh.Used || fresh.UsedAt != nil {
		t.Fatalf("r2 = used %t usedAt %v, want unconsumed", fresh.Used, fresh.UsedAt)
	}
}

func TestEvaluatePrivilegedFlagDoesNotAlterVerdicts(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	attendee := NewAttendee("token-1", "Aotoki", RoleAudience, nil, nil)
	rule := unboundedRule("r1")
	rule.Unlock = Attribute{Key: "tier", Value: "vip"}
	ruleset := NewRuleset(rule)

	plain := Evaluate(ruleset, attendee, now, false)
	privileged := Evaluate(ruleset, attendee, now, true)

	if plain.Rule("r1").Usable != privileged.Rule("r1").Usable {
		t.Fatal("privileged query changed a usability verdict")
	}
	if plain.Rule("r1").Visible != privileged.Rule("r1").Visible {
		t.Fatal("privileged query changed a visibility verdict")
	}
}

func TestVisibleRulesOrdering(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	attendee := NewAttendee("token-1", "Aotoki", RoleAudience, nil, nil)

	second := unboundedRule("b-second")
	second.Order = 2
	firstTieB := unboundedRule("b-tie")
	firstTieB.Order = 1
	firstTieA := unboundedRule("a-tie")
	firstTieA.Order = 1
	hidden := unboundedRule("hidden")
	hidden.Show = Or{}

	result := Evaluate(NewRuleset(second, firstTieB, firstTieA, hidden), attendee, now, false)

	visible := result.VisibleRules()
	got := make([]string, 0, len(visible))
	for _, r := range visible {
		got = append(got, r.RuleID)
	}

	want := []string{"a-tie", "b-tie", "b-second"}
	if len(got) != len(want) {
		t.Fatalf("VisibleRules() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("VisibleRules() = %v, want %v", got, want)
		}
	}
}

func TestHasUsableRules(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	attendee := NewAttendee("token-1", "Aotoki", RoleAudience, nil, nil)

	usable := unboundedRule("usable")
	hiddenButUsable := unboundedRule("hidden")
	hiddenButUsable.Show = Or{}

	if !Evaluate(NewRuleset(usable), attendee, now, false).HasUsableRules() {
		t.Fatal("HasUsableRules() = false, want true")
	}
	// A usable rule that is not visible does not count.
	if Evaluate(NewRuleset(hiddenButUsable), attendee, now, false).HasUsableRules() {
		t.Fatal("HasUsableRules() = true for hidden rule, want false")
	}
	if Evaluate(NewRuleset(), attendee, now, false).HasUsableRules() {
		t.Fatal("HasUsableRules() = true for empty ruleset, want false")
	}
}

func TestRuleResultCurrentMessage(t *testing.T) {
	messages := map[string]LocalizedText{
		"display":      {"en-US": "Collect your badge"},
		"locked":       {"en-US": "Not yet"},
		"already_used": {"en-US": "Already collected"},
	}

	tests := []struct {
		name   string
		result RuleResult
		want   string
	}{
		{
			name:   "used takes precedence",
			result: RuleResult{Used: true, Usable: false, Messages: messages},
			want:   "Already collected",
		},
		{
			name:   "locked when not usable",
			result: RuleResult{Usable: false, Messages: messages},
			want:   "Not yet",
		},
		{
			name:   "display when usable",
			result: RuleResult{Usable: true, Messages: messages},
			want:   "Collect your badge",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := test.result.CurrentMessage("display").Text("en-US")
			if got != test.want {
				t.Fatalf("CurrentMessage() = %q, want %q", got, test.want)
			}
		})
	}
}

func TestResultRuleLookup(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	attendee := NewAttendee("token-1", "Aotoki", RoleAudience, nil, nil)
	result := Evaluate(NewRuleset(unboundedRule("r1")), attendee, now, false)

	if result.Rule("r1") == nil {
		t.Fatal("Rule(r1) = nil, want verdict")
	}
	if result.Rule("r9") != nil {
		t.Fatal("Rule(r9) != nil, want nil")
	}
}
