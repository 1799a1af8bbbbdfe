package repository

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestNormalizeNotifyChannel(t *testing.T) {
	t.Run("defaults when empty", func(t *testing.T) {
		if got := normalizeNotifyChannel(""); got != defaultNotifyChannel {
			t.Fatalf("normalizeNotifyChannel() = %q, want %q", got, defaultNotifyChannel)
		}
	})

	t.Run("trims non-empty values", func(t *testing.T) {
		if got := normalizeNotifyChannel("  custom_events  "); got != "custom_events" {
			t.Fatalf("normalizeNotifyChannel() = %q, want %q", got, "custom_events")
		}
	})
}

func TestEnsureJSON(t *testing.T) {
	if got := string(ensureJSON(nil, "{}")); got != "{}" {
		t.Fatalf("ensureJSON(nil) = %q, want %q", got, "{}")
	}

	if got := string(ensureJSON(json.RawMessage(`{"day1":{}}`), "{}")); got != `{"day1":{}}` {
		t.Fatalf("ensureJSON(non-empty) = %q, want %q", got, `{"day1":{}}`)
	}
}

func TestListenStatement(t *testing.T) {
	if got := listenStatement("ruleset_events"); got != `LISTEN "ruleset_events"` {
		t.Fatalf("listenStatement() = %q, want %q", got, `LISTEN "ruleset_events"`)
	}
}

func TestRuleUsageKey(t *testing.T) {
	if got := ruleUsageKey("day1checkin"); got != "_rule_day1checkin" {
		t.Fatalf("ruleUsageKey() = %q, want %q", got, "_rule_day1checkin")
	}
}

func TestPgxNoRows(t *testing.T) {
	if !pgxNoRows(pgx.ErrNoRows) {
		t.Fatal("pgxNoRows(pgx.ErrNoRows) = false, want true")
	}

	if pgxNoRows(errors.New("boom")) {
		t.Fatal("pgxNoRows(other) = true, want false")
	}
}
