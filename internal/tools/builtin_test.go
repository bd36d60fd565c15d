// ABOUTME: Tests for the built-in sales tools.
// ABOUTME: Uses MockStore as the catalog and checks org scoping and missing-value errors.

package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesgenio/lead-gateway/internal/store"
)

func catalogFixture(t *testing.T) (*store.MockStore, OrgContext) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMockStore()

	org := &store.Organization{ID: "org-1", Name: "Acme", MeetingLink: "https://cal.example/acme"}
	require.NoError(t, s.CreateOrganization(ctx, org))
	require.NoError(t, s.CreateOrganization(ctx, &store.Organization{ID: "org-2", Name: "Other"}))

	require.NoError(t, s.CreateProduct(ctx, &store.Product{ID: "p-1", OrganizationID: "org-1", Title: "Starter", PricePerQuantity: 49, Available: true}))
	require.NoError(t, s.CreateProduct(ctx, &store.Product{ID: "p-2", OrganizationID: "org-1", Title: "Legacy", PricePerQuantity: 10}))
	require.NoError(t, s.CreateProduct(ctx, &store.Product{ID: "p-3", OrganizationID: "org-2", Title: "Foreign", Available: true}))

	return s, OrgContext{
		OrganizationID: "org-1",
		BusinessName:   "Acme",
		BusinessModel:  "B2B",
		MeetingLink:    org.MeetingLink,
		Website:        "https://acme.example",
		Catalog:        s,
	}
}

func dispatch(t *testing.T, org OrgContext, name, args string) Result {
	t.Helper()
	r := newTestRegistry(t, 0, Builtins()...)
	return r.Dispatch(context.Background(), Call{ID: "call_1", Name: name, Arguments: json.RawMessage(args)}, org)
}

func TestGetMeetingLink(t *testing.T) {
	_, org := catalogFixture(t)

	res := dispatch(t, org, GetMeetingLink, `{}`)
	require.Empty(t, res.ErrorMessage)
	assert.JSONEq(t, `{"meeting_link":"https://cal.example/acme"}`, string(res.Payload))

	org.MeetingLink = ""
	res = dispatch(t, org, GetMeetingLink, ``)
	assert.Equal(t, ErrNoMeetingLink.Error(), res.ErrorMessage)
}

func TestGetBusinessInfo(t *testing.T) {
	_, org := catalogFixture(t)

	res := dispatch(t, org, GetBusinessInfo, `{}`)
	require.Empty(t, res.ErrorMessage)
	assert.JSONEq(t, `{"name":"Acme","business_model":"B2B","website":"https://acme.example"}`, string(res.Payload))
}

func TestListProducts(t *testing.T) {
	_, org := catalogFixture(t)

	res := dispatch(t, org, ListProducts, `{}`)
	require.Empty(t, res.ErrorMessage)
	assert.JSONEq(t, `{"products":[{"id":"p-1","title":"Starter","price_per_quantity":49,"is_available":true}]}`, string(res.Payload))

	res = dispatch(t, org, ListProducts, `{"include_unavailable":true}`)
	require.Empty(t, res.ErrorMessage)
	var out listProductsResult
	require.NoError(t, json.Unmarshal(res.Payload, &out))
	assert.Len(t, out.Products, 2)

	org.Catalog = nil
	res = dispatch(t, org, ListProducts, `{}`)
	assert.Equal(t, ErrNoCatalog.Error(), res.ErrorMessage)
}

func TestGetProduct(t *testing.T) {
	_, org := catalogFixture(t)

	res := dispatch(t, org, GetProduct, `{"product_id":"p-1"}`)
	require.Empty(t, res.ErrorMessage)
	assert.Contains(t, string(res.Payload), `"title":"Starter"`)

	res = dispatch(t, org, GetProduct, `{"product_id":"p-3"}`)
	assert.Equal(t, "product p-3 not found", res.ErrorMessage, "other organizations' products are hidden")

	res = dispatch(t, org, GetProduct, `{}`)
	assert.Contains(t, res.ErrorMessage, "product_id is required")
}

func TestOrgContextFor(t *testing.T) {
	s := store.NewMockStore()
	org := &store.Organization{
		ID:            "org-9",
		Name:          "Northwind",
		BusinessModel: store.BusinessModelB2C,
		Industry:      "Retail",
		Website:       "https://northwind.example",
		MeetingLink:   "https://cal.example/nw",
	}

	oc := OrgContextFor(org, s)
	assert.Equal(t, "org-9", oc.OrganizationID)
	assert.Equal(t, "Northwind", oc.BusinessName)
	assert.Equal(t, "B2C", oc.BusinessModel)
	assert.Equal(t, "Retail", oc.Industry)
	assert.Equal(t, "https://northwind.example", oc.Website)
	assert.Equal(t, "https://cal.example/nw", oc.MeetingLink)
	assert.Same(t, s, oc.Catalog)
}
