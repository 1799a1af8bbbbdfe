package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownConditionType marks a condition whose "type" tag is not one of
// the closed variant set. An unknown type is a hard parse failure; only the
// complete omission of a condition defaults to [AlwaysTrue].
var ErrUnknownConditionType = errors.New("unknown condition type")

// Rules configured without a time window are effectively unbounded.
var (
	defaultWindowStart = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
	defaultWindowEnd   = time.Date(2099, time.December, 31, 23, 59, 59, 0, time.UTC)
)

type conditionJSON struct {
	Type     string            `json:"type"`
	Key      string            `json:"key"`
	Value    any               `json:"value"`
	RuleID   string            `json:"ruleId"`
	Children []json.RawMessage `json:"children"`
}

type timeWindowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type ruleJSON struct {
	Order      json.RawMessage              `json:"order"`
	TimeWindow *timeWindowJSON              `json:"timeWindow"`
	Messages   map[string]map[string]string `json:"messages"`
	Conditions struct {
		Show   json.RawMessage `json:"show"`
		Unlock json.RawMessage `json:"unlock"`
	} `json:"conditions"`
	Metadata map[string]any `json:"metadata"`
}

// ParseCondition decodes a tagged condition object. And/Or children are
// parsed recursively; a malformed child fails the whole tree.
func ParseCondition(raw json.RawMessage) (Condition, error) {
	var node conditionJSON
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}

	switch node.Type {
	case "AlwaysTrue":
		return AlwaysTrue{}, nil
	case "Attribute":
		return Attribute{Key: node.Key, Value: node.Value}, nil
	case "UsedRule":
		return UsedRule{RuleID: node.RuleID}, nil
	case "And", "Or":
		children := make([]Condition, 0, len(node.Children))
		for i, childRaw := range node.Children {
			child, err := ParseCondition(childRaw)
			if err != nil {
				return nil, fmt.Errorf("child %d: %w", i, err)
			}
			children = append(children, child)
		}
		if node.Type == "And" {
			return And{Children: children}, nil
		}
		return Or{Children: children}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConditionType, node.Type)
	}
}

// ParseRule builds a [Rule] from one entry of the ruleset configuration
// document. Missing pieces get their documented defaults; malformed pieces
// fail the rule outright.
func ParseRule(id string, raw json.RawMessage) (*Rule, error) {
	var decoded ruleJSON
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("rule %q: decode: %w", id, err)
	}

	window := TimeWindow{Start: defaultWindowStart, End: defaultWindowEnd}
	if decoded.TimeWindow != nil {
		start, err := time.Parse(time.RFC3339, decoded.TimeWindow.Start)
		if err != nil {
			return nil, fmt.Errorf("rule %q: time window start: %w", id, err)
		}
		end, err := time.Parse(time.RFC3339, decoded.TimeWindow.End)
		if err != nil {
			return nil, fmt.Errorf("rule %q: time window end: %w", id, err)
		}
		window = TimeWindow{Start: start, End: end}
	}

	show, err := parseConditionOrDefault(decoded.Conditions.Show)
	if err != nil {
		return nil, fmt.Errorf("rule %q: show condition: %w", id, err)
	}
	unlock, err := parseConditionOrDefault(decoded.Conditions.Unlock)
	if err != nil {
		return nil, fmt.Errorf("rule %q: unlock condition: %w", id, err)
	}

	messages := make(map[string]LocalizedText, len(decoded.Messages))
	for messageID, translations := range decoded.Messages {
		messages[messageID] = LocalizedText(translations)
	}

	metadata := decoded.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &Rule{
		ID:       id,
		Order:    parseOrder(decoded.Order),
		Messages: messages,
		Window:   window,
		Show:     show,
		Unlock:   unlock,
		Metadata: metadata,
	}, nil
}

// ParseRuleset decodes a full configuration document, a mapping of rule ID
// to rule object. Any malformed rule fails the whole load; a ruleset is
// never partially constructed.
func ParseRuleset(raw json.RawMessage) (*Ruleset, error) {
	if len(raw) == 0 {
		return NewRuleset(), nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}

	rules := make([]*Rule, 0, len(entries))
	for id, entry := range entries {
		rule, err := ParseRule(id, entry)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return NewRuleset(rules...), nil
}

func parseConditionOrDefault(raw json.RawMessage) (Condition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return AlwaysTrue{}, nil
	}
	return ParseCondition(raw)
}

// parseOrder is deliberately tolerant: absent or non-numeric order values
// fall back to 0.
func parseOrder(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var order float64
	if err := json.Unmarshal(raw, &order); err != nil {
		return 0
	}
	return int(order)
}
