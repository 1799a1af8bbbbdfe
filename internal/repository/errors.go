package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrRuleAlreadyUsed is returned by MarkRuleUsed when the attendee has
// already consumed the rule. The original consumption timestamp is kept.
var ErrRuleAlreadyUsed = errors.New("rule already used")

// Rule consumption is recorded as a reserved metadata key so one jsonb
// column carries both attendee attributes and the usage ledger.
const ruleUsagePrefix = "_rule_"

func ruleUsageKey(ruleID string) string {
	return ruleUsagePrefix + ruleID
}

func pgxNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
