// Package tools provides the registry of in-process tools the assistant can call.
//
// # Overview
//
// While a run is in progress the backend may stop and ask for one or more tool
// calls. Each Call names a tool and carries JSON arguments; the gateway answers
// every call with exactly one Result before the run can resume.
//
// # Typed Tools
//
// Tools are declared with New, which binds a Definition (name, description,
// JSON Schema parameters) to a handler with its own argument and result types:
//
//	tools.New(tools.Definition{Name: "get_product", ...},
//		func(ctx context.Context, args getProductArgs, org tools.OrgContext) (productView, error) {
//			...
//		})
//
// Handlers get organization-scoped values (scheduling link, catalog) through
// OrgContext, which the caller builds per turn.
//
// # Error Containment
//
// Registry.Dispatch never fails. An unknown tool name yields a Result with
// ErrorMessage "unsupported tool"; handler errors, panics, invalid arguments
// and per-call timeouts (DefaultTimeout) are likewise turned into an
// ErrorMessage, which Result.Output renders as {"error": "..."} for the model.
//
// DispatchAll fans a batch out concurrently and returns results in call order.
//
// # Built-in Tools
//
//   - get_meeting_link: the organization's scheduling link
//   - get_business_info: name, business model, industry, website
//   - list_products: catalog entries, available ones by default
//   - get_product: a single catalog entry by id
package tools
