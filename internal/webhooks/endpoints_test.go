package webhooks

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
	"github.com/angelmondragon/merchcoin-backend/pkg/pagination"
)

func TestEndpointServiceCreateGeneratesSecret(t *testing.T) {
	f := newFixture(t)
	svc := NewEndpointService(f.guard, f.repo)
	tenantID := uuid.New()

	created, err := svc.Create(context.Background(), CreateEndpointInput{
		TenantID: tenantID,
		URL:      "https://hooks.example.com/merch",
		Events:   []string{"order.created", "order.created", "currency.credited"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Secret, secretPrefix))
	assert.Len(t, created.Secret, len(secretPrefix)+64)
	assert.Equal(t, []string{"order.created", "currency.credited"}, []string(created.Endpoint.Events))
	assert.True(t, created.Endpoint.Active)

	supplied, err := svc.Create(context.Background(), CreateEndpointInput{
		TenantID: tenantID,
		URL:      "https://hooks.example.com/all",
		Secret:   "my-secret",
		Events:   []string{"*"},
	})
	require.NoError(t, err)
	assert.Equal(t, "my-secret", supplied.Secret)

	rows, err := svc.List(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	others, err := svc.List(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestEndpointServiceCreateValidation(t *testing.T) {
	f := newFixture(t)
	svc := NewEndpointService(f.guard, f.repo)

	cases := []CreateEndpointInput{
		{TenantID: uuid.New(), URL: "ftp://hooks.example.com", Events: []string{"*"}},
		{TenantID: uuid.New(), URL: "not a url", Events: []string{"*"}},
		{TenantID: uuid.New(), URL: "https://hooks.example.com", Events: nil},
		{TenantID: uuid.New(), URL: "https://hooks.example.com", Events: []string{"order.shipped"}},
	}
	for _, input := range cases {
		_, err := svc.Create(context.Background(), input)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "input %+v", input)
	}
}

func TestEndpointServiceDeactivateAndDeliveries(t *testing.T) {
	f := newFixture(t)
	svc := NewEndpointService(f.guard, f.repo)
	tenantID := uuid.New()
	endpoint := f.endpoint(t, tenantID, "https://receiver.test/hook", true, "*")
	for i := 0; i < 3; i++ {
		f.failedDelivery(t, endpoint, 1, nil)
	}

	page, err := svc.ListDeliveries(context.Background(), tenantID, endpoint.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Deliveries, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := svc.ListDeliveries(context.Background(), tenantID, endpoint.ID, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Len(t, rest.Deliveries, 1)
	assert.Empty(t, rest.NextCursor)

	_, err = svc.ListDeliveries(context.Background(), tenantID, endpoint.ID, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.ListDeliveries(context.Background(), uuid.New(), endpoint.ID, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	require.NoError(t, svc.Deactivate(context.Background(), tenantID, endpoint.ID))
	stored, err := f.repo.FindEndpoint(context.Background(), tenantID, endpoint.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	err = svc.Deactivate(context.Background(), uuid.New(), endpoint.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
