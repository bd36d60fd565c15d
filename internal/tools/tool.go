// ABOUTME: Tool call request/result types and the typed Tool abstraction
// ABOUTME: New[A, R] binds a JSON-schema definition to a handler with its own argument and result shapes

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/salesgenio/lead-gateway/internal/store"
)

// ErrInvalidArguments indicates the tool arguments could not be decoded.
var ErrInvalidArguments = errors.New("invalid arguments")

// Call is a tool invocation requested by the assistant backend.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Result answers exactly one Call. Either Payload or ErrorMessage is set.
type Result struct {
	CallID       string
	Payload      json.RawMessage
	ErrorMessage string
}

// Output renders the result as the string handed back to the backend.
// Errors are reported as {"error": "..."} so the model can react to them.
func (r Result) Output() string {
	if r.ErrorMessage != "" {
		b, _ := json.Marshal(map[string]string{"error": r.ErrorMessage})
		return string(b)
	}
	if len(r.Payload) == 0 {
		return "{}"
	}
	return string(r.Payload)
}

// Definition describes a tool to the backend.
// Parameters is a JSON Schema object.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Catalog is the product lookup the catalog tools need.
// store.Store satisfies it.
type Catalog interface {
	ListProducts(ctx context.Context, organizationID string, availableOnly bool) ([]*store.Product, error)
	GetProduct(ctx context.Context, organizationID, productID string) (*store.Product, error)
}

// OrgContext carries organization-scoped values injected by the caller.
// Handlers read from it and never fetch organization data themselves.
type OrgContext struct {
	OrganizationID string
	BusinessName   string
	BusinessModel  string
	MeetingLink    string
	Website        string
	Industry       string
	Catalog        Catalog
}

// OrgContextFor builds the OrgContext for org, backed by catalog.
func OrgContextFor(org *store.Organization, catalog Catalog) OrgContext {
	return OrgContext{
		OrganizationID: org.ID,
		BusinessName:   org.Name,
		BusinessModel:  string(org.BusinessModel),
		MeetingLink:    org.MeetingLink,
		Website:        org.Website,
		Industry:       org.Industry,
		Catalog:        catalog,
	}
}

// Tool is a named handler the assistant may invoke.
type Tool interface {
	Definition() Definition
	Invoke(ctx context.Context, args json.RawMessage, org OrgContext) (any, error)
}

// Handler is the typed body of a tool.
type Handler[A, R any] func(ctx context.Context, args A, org OrgContext) (R, error)

type typedTool[A, R any] struct {
	def     Definition
	handler Handler[A, R]
}

// New creates a Tool whose arguments decode into A and whose result is R.
// Empty arguments decode to the zero A.
func New[A, R any](def Definition, handler Handler[A, R]) Tool {
	if len(def.Parameters) == 0 {
		def.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return &typedTool[A, R]{def: def, handler: handler}
}

func (t *typedTool[A, R]) Definition() Definition {
	return t.def
}

func (t *typedTool[A, R]) Invoke(ctx context.Context, raw json.RawMessage, org OrgContext) (any, error) {
	var args A
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	return t.handler(ctx, args, org)
}
