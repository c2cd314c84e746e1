package apikeys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
)

func TestParseCapabilities(t *testing.T) {
	set, err := ParseCapabilities([]string{"currency:credit", "orders:*", " webhooks:read "})
	require.NoError(t, err)

	assert.True(t, set.Allows(ResourceCurrency, "credit"))
	assert.False(t, set.Allows(ResourceCurrency, "debit"))
	assert.True(t, set.Allows(ResourceOrders, "approve"))
	assert.True(t, set.Allows(ResourceOrders, "cancel"))
	assert.True(t, set.Allows(ResourceWebhooks, "read"))
	assert.False(t, set.Allows(ResourceWebhooks, "manage"))
	assert.False(t, set.Allows(ResourceAPIKeys, "read"))
	assert.Equal(t, []string{"currency:credit", "orders:*", "webhooks:read"}, set.Tokens())
}

func TestParseCapabilitiesWildcard(t *testing.T) {
	set, err := ParseCapabilities([]string{"*", "currency:read"})
	require.NoError(t, err)
	assert.True(t, set.Allows(ResourceAPIKeys, "manage"))
	assert.Equal(t, []string{"*"}, set.Tokens())
}

func TestParseCapabilitiesRejectsUnknownTokens(t *testing.T) {
	for _, token := range []string{
		"currency",
		"currency:",
		":read",
		"billing:read",
		"currency:mint",
		"orders:delete",
		"**",
	} {
		_, err := ParseCapabilities([]string{token})
		assert.Error(t, err, token)
	}
}

func TestTokensCollapseActionsUnderResourceWildcard(t *testing.T) {
	set := MustCapabilities("orders:read", "orders:*")
	assert.Equal(t, []string{"orders:*"}, set.Tokens())
	assert.True(t, CapabilitySet{}.IsEmpty())
}

func TestRoleCapabilities(t *testing.T) {
	admin := RoleCapabilities(enums.MemberRoleAdmin)
	assert.True(t, admin.Allows(ResourceCurrency, "adjust"))
	assert.True(t, admin.Allows(ResourceAPIKeys, "manage"))

	member := RoleCapabilities(enums.MemberRoleMember)
	assert.True(t, member.Allows(ResourceCurrency, "read"))
	assert.True(t, member.Allows(ResourceOrders, "create"))
	assert.True(t, member.Allows(ResourceOrders, "read"))
	assert.True(t, member.Allows(ResourceOrders, "cancel"))
	assert.False(t, member.Allows(ResourceCurrency, "credit"))
	assert.False(t, member.Allows(ResourceOrders, "approve"))
	assert.False(t, member.Allows(ResourceWebhooks, "read"))

	assert.True(t, RoleCapabilities("guest").IsEmpty())
}

func TestRequirePermission(t *testing.T) {
	set := MustCapabilities("currency:*", "orders:read")

	require.NoError(t, RequirePermission(set, "currency:debit"))
	require.NoError(t, RequirePermission(set, "orders:read"))
	require.NoError(t, RequirePermission(MustCapabilities("*"), "api_keys:manage"))

	err := RequirePermission(set, "orders:approve")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	err = RequirePermission(set, "currency:print")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}
