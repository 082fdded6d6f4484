package entitlement

import (
	"strings"

	"streamchat/internal/config"
	"streamchat/internal/models"
)

// Wildcard in a permitted model list grants every model.
const Wildcard = "*"

// Rule bounds what one user type may do.
type Rule struct {
	MaxMessagesPerDay int
	models            map[string]struct{}
	all               bool
}

// Allows reports whether modelID is permitted.
func (r Rule) Allows(modelID string) bool {
	if r.all {
		return true
	}
	_, ok := r.models[strings.TrimSpace(modelID)]
	return ok
}

// Table maps user types to their rule. Unknown types get the most
// restrictive configured rule.
type Table struct {
	rules    map[models.UserType]Rule
	fallback Rule
}

// FromConfig builds the table from deploy-time configuration.
func FromConfig(src map[string]config.EntitlementRule) *Table {
	t := &Table{rules: make(map[models.UserType]Rule, len(src))}
	first := true
	for name, raw := range src {
		r := Rule{MaxMessagesPerDay: raw.MaxMessagesPerDay, models: make(map[string]struct{}, len(raw.AvailableModelIDs))}
		for _, id := range raw.AvailableModelIDs {
			id = strings.TrimSpace(id)
			if id == Wildcard {
				r.all = true
				continue
			}
			r.models[id] = struct{}{}
		}
		t.rules[models.UserType(strings.ToLower(name))] = r
		if first || r.MaxMessagesPerDay < t.fallback.MaxMessagesPerDay {
			t.fallback = r
			first = false
		}
	}
	return t
}

// For returns the rule for a user type.
func (t *Table) For(userType models.UserType) Rule {
	if r, ok := t.rules[models.UserType(strings.ToLower(string(userType)))]; ok {
		return r
	}
	return t.fallback
}
