package core

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Role classifies attendees. Staff members are superset viewers; audience
// is the default for unrecognised role strings.
type Role string

const (
	RoleStaff    Role = "staff"
	RoleAudience Role = "audience"
)

// ParseRole maps a stored role string to a [Role].
func ParseRole(s string) Role {
	if s == string(RoleStaff) {
		return RoleStaff
	}
	return RoleAudience
}

// ruleUsagePrefix reserves a namespace inside attendee metadata for the
// consumption ledger: one `_rule_<id>` key per consumed rule, value the
// consumption time in seconds since epoch.
const ruleUsagePrefix = "_rule_"

// RuleUsageKey returns the reserved metadata key recording consumption of
// the given rule.
func RuleUsageKey(ruleID string) string { return ruleUsagePrefix + ruleID }

// Attendee is an immutable snapshot of one attendee's state as loaded from
// storage. The flat metadata map is split on construction: reserved
// `_rule_` keys become the consumption ledger, everything else becomes
// attendee-visible attributes usable by [Attribute] conditions.
type Attendee struct {
	Token       string
	DisplayName string
	PublicToken string
	Role        Role
	FirstUsedAt *time.Time

	attrs  map[string]any
	ledger map[string]time.Time
}

// NewAttendee builds an attendee snapshot. PublicToken is derived as the
// hex SHA-1 of the raw token, matching what clients are shown instead of
// the token itself.
func NewAttendee(token, displayName string, role Role, firstUsedAt *time.Time, metadata map[string]any) *Attendee {
	sum := sha1.Sum([]byte(token))

	a := &Attendee{
		Token:       token,
		DisplayName: displayName,
		PublicToken: hex.EncodeToString(sum[:]),
		Role:        role,
		FirstUsedAt: firstUsedAt,
		attrs:       make(map[string]any),
		ledger:      make(map[string]time.Time),
	}

	for key, value := range metadata {
		ruleID, reserved := strings.CutPrefix(key, ruleUsagePrefix)
		if !reserved {
			a.attrs[key] = value
			continue
		}
		if usedAt, ok := parseUnixSeconds(value); ok {
			a.ledger[ruleID] = usedAt
		}
	}

	return a
}

// HasUsedRule reports whether the attendee holds a consumption record for
// the rule.
func (a *Attendee) HasUsedRule(ruleID string) bool {
	_, ok := a.ledger[ruleID]
	return ok
}

// RuleUsedAt returns the recorded consumption time for the rule.
func (a *Attendee) RuleUsedAt(ruleID string) (time.Time, bool) {
	usedAt, ok := a.ledger[ruleID]
	return usedAt, ok
}

// Attribute returns the attendee-visible attribute for key. Reserved
// ledger entries are never reachable through this accessor.
func (a *Attendee) Attribute(key string) (any, bool) {
	value, ok := a.attrs[key]
	return value, ok
}

// Attributes returns a copy of the attendee-visible attributes.
func (a *Attendee) Attributes() map[string]any {
	attrs := make(map[string]any, len(a.attrs))
	for key, value := range a.attrs {
		attrs[key] = value
	}
	return attrs
}

// Metadata flattens attributes and ledger back into the storage shape,
// with ledger timestamps rendered as decimal-string seconds.
func (a *Attendee) Metadata() map[string]any {
	metadata := make(map[string]any, len(a.attrs)+len(a.ledger))
	for key, value := range a.attrs {
		metadata[key] = value
	}
	for ruleID, usedAt := range a.ledger {
		metadata[RuleUsageKey(ruleID)] = strconv.FormatInt(usedAt.Unix(), 10)
	}
	return metadata
}

// parseUnixSeconds accepts ledger values as stored: decimal-string or
// numeric seconds since epoch. Null and malformed values are treated as
// absent.
func parseUnixSeconds(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		seconds, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(seconds, 0).UTC(), true
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	case int64:
		return time.Unix(v, 0).UTC(), true
	case int:
		return time.Unix(int64(v), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}
