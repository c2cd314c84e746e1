package apikeys

import (
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
)

const wildcard = "*"

// Resource groups the actions a capability can grant.
type Resource string

const (
	ResourceCurrency Resource = "currency"
	ResourceOrders   Resource = "orders"
	ResourceWebhooks Resource = "webhooks"
	ResourceAPIKeys  Resource = "api_keys"
)

var knownActions = map[Resource][]string{
	ResourceCurrency: {"read", "credit", "debit", "distribute", "adjust"},
	ResourceOrders:   {"read", "create", "approve", "fulfill", "cancel"},
	ResourceWebhooks: {"read", "manage"},
	ResourceAPIKeys:  {"read", "manage"},
}

// Capability is one resource:action pair.
type Capability struct {
	Resource Resource
	Action   string
}

func (c Capability) String() string {
	return string(c.Resource) + ":" + c.Action
}

// CapabilitySet is a parsed permission grant. Tokens are "*", "resource:*" or
// "resource:action" over a closed vocabulary.
type CapabilitySet struct {
	all       bool
	resources map[Resource]struct{}
	actions   map[Capability]struct{}
}

// ParseCapabilities rejects unknown or malformed tokens.
func ParseCapabilities(tokens []string) (CapabilitySet, error) {
	set := CapabilitySet{
		resources: map[Resource]struct{}{},
		actions:   map[Capability]struct{}{},
	}
	for _, raw := range tokens {
		token := strings.TrimSpace(raw)
		if token == wildcard {
			set.all = true
			continue
		}
		resource, action, ok := strings.Cut(token, ":")
		if !ok || resource == "" || action == "" {
			return CapabilitySet{}, fmt.Errorf("malformed permission %q", raw)
		}
		actions, known := knownActions[Resource(resource)]
		if !known {
			return CapabilitySet{}, fmt.Errorf("unknown resource in permission %q", raw)
		}
		if action == wildcard {
			set.resources[Resource(resource)] = struct{}{}
			continue
		}
		if !contains(actions, action) {
			return CapabilitySet{}, fmt.Errorf("unknown action in permission %q", raw)
		}
		set.actions[Capability{Resource: Resource(resource), Action: action}] = struct{}{}
	}
	return set, nil
}

// MustCapabilities parses tokens known to be valid at compile time.
func MustCapabilities(tokens ...string) CapabilitySet {
	set, err := ParseCapabilities(tokens)
	if err != nil {
		panic(err)
	}
	return set
}

// Allows reports whether the set grants action on resource.
func (s CapabilitySet) Allows(resource Resource, action string) bool {
	if s.all {
		return true
	}
	if _, ok := s.resources[resource]; ok {
		return true
	}
	_, ok := s.actions[Capability{Resource: resource, Action: action}]
	return ok
}

// Tokens returns the canonical, sorted token list of the set.
func (s CapabilitySet) Tokens() []string {
	if s.all {
		return []string{wildcard}
	}
	out := make([]string, 0, len(s.resources)+len(s.actions))
	for resource := range s.resources {
		out = append(out, string(resource)+":"+wildcard)
	}
	for capability := range s.actions {
		if _, covered := s.resources[capability.Resource]; covered {
			continue
		}
		out = append(out, capability.String())
	}
	sort.Strings(out)
	return out
}

// IsEmpty reports whether the set grants nothing.
func (s CapabilitySet) IsEmpty() bool {
	return !s.all && len(s.resources) == 0 && len(s.actions) == 0
}

// RequirePermission fails FORBIDDEN unless the set grants permission, given
// as "resource:action". An unknown permission is a wiring bug and fails
// INTERNAL.
func RequirePermission(set CapabilitySet, permission string) error {
	resource, action, ok := strings.Cut(permission, ":")
	if !ok || !contains(knownActions[Resource(resource)], action) {
		return pkgerrors.New(pkgerrors.CodeInternal, "unknown permission").
			WithDetails(map[string]any{"permission": permission})
	}
	if !set.Allows(Resource(resource), action) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "missing permission").
			WithDetails(map[string]any{"required": permission})
	}
	return nil
}

var (
	adminCapabilities  = MustCapabilities(wildcard)
	memberCapabilities = MustCapabilities("currency:read", "orders:create", "orders:read", "orders:cancel")
)

// RoleCapabilities maps a dashboard session role onto capabilities.
func RoleCapabilities(role enums.MemberRole) CapabilitySet {
	switch role {
	case enums.MemberRoleAdmin:
		return adminCapabilities
	case enums.MemberRoleMember:
		return memberCapabilities
	default:
		return CapabilitySet{}
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
