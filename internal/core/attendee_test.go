package core

import "testing"

func TestNewAttendeeSplitsReservedMetadata(t *testing.T) {
	attendee := NewAttendee("token-1", "Aotoki", RoleAudience, nil, map[string]any{
		"tier":      "vip",
		"cohort":    float64(3),
		"_rule_r1":  "1700000000",
		"_rule_r2":  float64(1700000100),
		"_rule_bad": "not-a-timestamp",
	})

	if !attendee.HasUsedRule("r1") {
		t.Fatal("HasUsedRule(r1) = false, want true")
	}
	usedAt, ok := attendee.RuleUsedAt("r2")
	if !ok {
		t.Fatal("RuleUsedAt(r2) not found")
	}
	if usedAt.Unix() != 1700000100 {
		t.Fatalf("RuleUsedAt(r2) = %d, want 1700000100", usedAt.Unix())
	}
	if attendee.HasUsedRule("bad") {
		t.Fatal("HasUsedRule(bad) = true for malformed ledger entry, want false")
	}

	if _, ok := attendee.Attribute("_rule_r1"); ok {
		t.Fatal("Attribute(_rule_r1) reachable, want reserved keys hidden")
	}
	if value, ok := attendee.Attribute("tier"); !ok || value != "vip" {
		t.Fatalf("Attribute(tier) = %v, %t; want vip, true", value, ok)
	}

	attrs := attendee.Attributes()
	if len(attrs) != 2 {
		t.Fatalf("Attributes() has %d entries, want 2", len(attrs))
	}
}

func TestAttendeeMetadataRoundTrip(t *testing.T) {
	attendee := NewAttendee("token-1", "Aotoki", RoleStaff, nil, map[string]any{
		"tier":     "vip",
		"_rule_r1": "1700000000",
	})

	metadata := attendee.Metadata()
	if metadata["tier"] != "vip" {
		t.Fatalf("metadata[tier] = %v, want vip", metadata["tier"])
	}
	if metadata["_rule_r1"] != "1700000000" {
		t.Fatalf("metadata[_rule_r1] = %v, want 1700000000", metadata["_rule_r1"])
	}
}

func TestAttendeePublicTokenIsStableHash(t *testing.T) {
	first := NewAttendee("token-1", "A", RoleAudience, nil, nil)
	second := NewAttendee("token-1", "B", RoleStaff, nil, nil)
	other := NewAttendee("token-2", "A", RoleAudience, nil, nil)

	if first.PublicToken == "" || first.PublicToken == first.Token {
		t.Fatalf("PublicToken = %q, want non-empty derived value", first.PublicToken)
	}
	if first.PublicToken != second.PublicToken {
		t.Fatal("PublicToken differs for the same raw token")
	}
	if first.PublicToken == other.PublicToken {
		t.Fatal("PublicToken collides for different raw tokens")
	}
	if len(first.PublicToken) != 40 {
		t.Fatalf("PublicToken length = %d, want 40 hex chars", len(first.PublicToken))
	}
}

func TestParseRole(t *testing.T) {
	if ParseRole("staff") != RoleStaff {
		t.Fatal(`ParseRole("staff") != RoleStaff`)
	}
	if ParseRole("audience") != RoleAudience {
		t.Fatal(`ParseRole("audience") != RoleAudience`)
	}
	if ParseRole("weird") != RoleAudience {
		t.Fatal(`ParseRole("weird") != RoleAudience`)
	}
}

func TestRuleUsageKey(t *testing.T) {
	if got := RuleUsageKey("r1"); got != "_rule_r1" {
		t.Fatalf("RuleUsageKey(r1) = %q, want _rule_r1", got)
	}
}
