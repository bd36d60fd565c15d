// ABOUTME: Business-model context posted once at the start of every new thread
// ABOUTME: Renders B2B, B2C or BOTH templates with contact and organization details

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/salesgenio/lead-gateway/internal/store"
	"github.com/salesgenio/lead-gateway/internal/tools"
)

// PreambleSource produces the context message for a contact's new thread.
// An empty string means no preamble is posted.
type PreambleSource interface {
	Preamble(ctx context.Context, contactID string, org tools.OrgContext) (string, error)
}

// ContactLookup is what TemplatePreamble needs from storage.
type ContactLookup interface {
	GetContact(ctx context.Context, id string) (*store.Contact, error)
}

const notProvided = "Not provided"

const preambleHeader = `You're speaking with {{.ContactName}}
Contact Number: {{.ContactPhone}}
{{- if .BusinessName}}
You represent: {{.BusinessName}}{{end}}
`

var defaultTemplates = map[store.BusinessModel]string{
	store.BusinessModelB2B: preambleHeader + `Industry: {{.Industry}}
Company Website: {{.Website}}

Your Role:
- Act as a professional B2B sales representative
- Focus on business needs and pain points
- Use industry-appropriate language

Qualification Process:
1. Understand the business problem they want to solve
2. Identify who makes the purchasing decision
3. Explore budget expectations
4. Establish their timeline

Meeting Link Sharing Criteria:
- Share the meeting link once the lead is qualified or asks to talk to someone
`,
	store.BusinessModelB2C: preambleHeader + `
Your Role:
- Act as a friendly customer service representative
- Focus on individual needs and preferences
- Keep language simple and jargon-free
- Emphasize personal benefits

Key Objectives:
1. Understand personal needs
2. Identify individual preferences
3. Build personal connection
4. Guide towards appropriate solution

Qualification Process:
1. Understand Requirements:
   - Ask about specific needs
   - Explore usage scenarios
2. Confirm Decision Making:
   - Understand timeline
   - Discuss budget expectations

Meeting Link Sharing Criteria:
- Share meeting link when:
  1. Customer shows clear interest
  2. Has specific needs that require detailed discussion
  3. Requests more information
`,
	store.BusinessModelBoth: preambleHeader + `
Your Role:
- Adapt your approach based on the conversation
- Start neutral and determine if speaking with business or individual
- Adjust language and focus accordingly

Initial Assessment:
- Ask open-ended questions about their interest
- Listen for business or personal use indicators
- Adapt qualification process based on response

Key Objectives:
1. Identify if business or personal use
2. Adjust communication style accordingly
3. Follow appropriate qualification process
`,
}

type preambleData struct {
	ContactName  string
	ContactPhone string
	BusinessName string
	Industry     string
	Website      string
}

// TemplatePreamble renders a template chosen by the organization's business model.
// Unknown models use the BOTH template.
type TemplatePreamble struct {
	contacts  ContactLookup
	templates map[store.BusinessModel]*template.Template
}

// NewTemplatePreamble parses the built-in templates, replacing any model
// present in overrides with the given template text.
func NewTemplatePreamble(contacts ContactLookup, overrides map[string]string) (*TemplatePreamble, error) {
	texts := make(map[store.BusinessModel]string, len(defaultTemplates))
	for model, text := range defaultTemplates {
		texts[model] = text
	}
	for model, text := range overrides {
		bm := store.BusinessModel(strings.ToUpper(model))
		if !bm.Valid() {
			return nil, fmt.Errorf("preamble override for unknown business model %q", model)
		}
		texts[bm] = text
	}

	p := &TemplatePreamble{
		contacts:  contacts,
		templates: make(map[store.BusinessModel]*template.Template, len(texts)),
	}
	for model, text := range texts {
		tmpl, err := template.New(string(model)).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing %s preamble: %w", model, err)
		}
		p.templates[model] = tmpl
	}
	return p, nil
}

// Preamble implements PreambleSource.
func (p *TemplatePreamble) Preamble(ctx context.Context, contactID string, org tools.OrgContext) (string, error) {
	contact, err := p.contacts.GetContact(ctx, contactID)
	if err != nil {
		return "", fmt.Errorf("loading contact: %w", err)
	}

	tmpl, ok := p.templates[store.BusinessModel(org.BusinessModel)]
	if !ok {
		tmpl = p.templates[store.BusinessModelBoth]
	}

	data := preambleData{
		ContactName:  orNotProvided(contact.Name),
		ContactPhone: orNotProvided(contact.Phone),
		BusinessName: org.BusinessName,
		Industry:     orNotProvided(org.Industry),
		Website:      orNotProvided(org.Website),
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering preamble: %w", err)
	}
	return b.String(), nil
}

func orNotProvided(s string) string {
	if strings.TrimSpace(s) == "" {
		return notProvided
	}
	return s
}
