// ABOUTME: Built-in sales tools: meeting link, business info and product catalog lookups.
// ABOUTME: All values come from the caller-supplied OrgContext.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/salesgenio/lead-gateway/internal/store"
)

// Builtin tool names.
const (
	GetMeetingLink  = "get_meeting_link"
	GetBusinessInfo = "get_business_info"
	ListProducts    = "list_products"
	GetProduct      = "get_product"
)

// ErrNoMeetingLink is returned when the organization has no scheduling link.
var ErrNoMeetingLink = errors.New("no meeting link configured for this organization")

// ErrNoCatalog is returned when catalog tools run without a Catalog.
var ErrNoCatalog = errors.New("product catalog unavailable")

// Builtins returns the tools every organization gets.
func Builtins() []Tool {
	return []Tool{
		New(Definition{
			Name:        GetMeetingLink,
			Description: "Get the link the lead can use to book a meeting with the sales team. Only share it once the lead is qualified.",
		}, meetingLink),
		New(Definition{
			Name:        GetBusinessInfo,
			Description: "Get the business name, website and industry of the company you represent",
		}, businessInfo),
		New(Definition{
			Name:        ListProducts,
			Description: "List products and services in the catalog with their prices",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"include_unavailable":{"type":"boolean","description":"Also list products that are not currently available"}}}`),
		}, listProducts),
		New(Definition{
			Name:        GetProduct,
			Description: "Get one product from the catalog by id",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"product_id":{"type":"string"}},"required":["product_id"]}`),
		}, getProduct),
	}
}

type noArgs struct{}

type meetingLinkResult struct {
	MeetingLink string `json:"meeting_link"`
}

func meetingLink(_ context.Context, _ noArgs, org OrgContext) (meetingLinkResult, error) {
	if strings.TrimSpace(org.MeetingLink) == "" {
		return meetingLinkResult{}, ErrNoMeetingLink
	}
	return meetingLinkResult{MeetingLink: org.MeetingLink}, nil
}

type businessInfoResult struct {
	Name          string `json:"name"`
	BusinessModel string `json:"business_model,omitempty"`
	Industry      string `json:"industry,omitempty"`
	Website       string `json:"website,omitempty"`
}

func businessInfo(_ context.Context, _ noArgs, org OrgContext) (businessInfoResult, error) {
	return businessInfoResult{
		Name:          org.BusinessName,
		BusinessModel: org.BusinessModel,
		Industry:      org.Industry,
		Website:       org.Website,
	}, nil
}

// productView is the shape products are shown to the model in.
type productView struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	PricePerQuantity float64 `json:"price_per_quantity"`
	Available        bool    `json:"is_available"`
}

func viewProduct(p *store.Product) productView {
	return productView{
		ID:               p.ID,
		Title:            p.Title,
		Description:      p.Description,
		PricePerQuantity: p.PricePerQuantity,
		Available:        p.Available,
	}
}

type listProductsArgs struct {
	IncludeUnavailable bool `json:"include_unavailable"`
}

type listProductsResult struct {
	Products []productView `json:"products"`
}

func listProducts(ctx context.Context, args listProductsArgs, org OrgContext) (listProductsResult, error) {
	if org.Catalog == nil {
		return listProductsResult{}, ErrNoCatalog
	}
	products, err := org.Catalog.ListProducts(ctx, org.OrganizationID, !args.IncludeUnavailable)
	if err != nil {
		return listProductsResult{}, fmt.Errorf("listing products: %w", err)
	}

	out := listProductsResult{Products: make([]productView, 0, len(products))}
	for _, p := range products {
		out.Products = append(out.Products, viewProduct(p))
	}
	return out, nil
}

type getProductArgs struct {
	ProductID string `json:"product_id"`
}

func getProduct(ctx context.Context, args getProductArgs, org OrgContext) (productView, error) {
	if org.Catalog == nil {
		return productView{}, ErrNoCatalog
	}
	if args.ProductID == "" {
		return productView{}, fmt.Errorf("%w: product_id is required", ErrInvalidArguments)
	}
	p, err := org.Catalog.GetProduct(ctx, org.OrganizationID, args.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return productView{}, fmt.Errorf("product %s not found", args.ProductID)
	}
	if err != nil {
		return productView{}, fmt.Errorf("getting product: %w", err)
	}
	return viewProduct(p), nil
}
