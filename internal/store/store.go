// ABOUTME: Store interface and data types for lead-gateway persistence
// ABOUTME: Defines Organization, Contact, Exchange and Product plus per-contact qualification state

package store

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/salesgenio/lead-gateway/internal/qualify"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique column (id, phone, thread id) is already taken
var ErrDuplicate = errors.New("already exists")

// ErrThreadAlreadySet is returned when a contact already owns a different thread
var ErrThreadAlreadySet = errors.New("contact already has a thread")

// BusinessModel selects the conversation preamble used for an organization's leads.
type BusinessModel string

const (
	BusinessModelB2B  BusinessModel = "B2B"
	BusinessModelB2C  BusinessModel = "B2C"
	BusinessModelBoth BusinessModel = "BOTH"
)

// Valid reports whether m is one of the known business models.
func (m BusinessModel) Valid() bool {
	switch m {
	case BusinessModelB2B, BusinessModelB2C, BusinessModelBoth:
		return true
	}
	return false
}

// Organization is a business whose leads talk to the assistant
type Organization struct {
	ID            string
	Name          string
	BusinessModel BusinessModel
	Industry      string
	Website       string
	MeetingLink   string
	PhoneNumberID string // WhatsApp Cloud API sender id
	CreatedAt     time.Time
}

// Contact is a lead belonging to an organization.
// ThreadID is empty until the first turn creates the backend thread.
type Contact struct {
	ID             string
	OrganizationID string
	Name           string
	Phone          string // digits only, see NormalizePhone
	ThreadID       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Exchange is one persisted input/response pair
type Exchange struct {
	ID        string
	ContactID string
	ThreadID  string
	Input     string
	Response  string
	CreatedAt time.Time
}

// Product is a catalog entry the assistant can quote from
type Product struct {
	ID               string
	OrganizationID   string
	Title            string
	Description      string
	PricePerQuantity float64
	Available        bool
	CreatedAt        time.Time
}

// Store defines the interface for lead-gateway persistence
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)

	// Contacts
	CreateContact(ctx context.Context, contact *Contact) error
	GetContact(ctx context.Context, id string) (*Contact, error)
	GetContactByPhone(ctx context.Context, phone string) (*Contact, error)

	// Conversation thread, written once per conversation
	LoadThreadFor(ctx context.Context, contactID string) (string, error)
	SaveThreadFor(ctx context.Context, contactID, threadID string) error
	ClearConversation(ctx context.Context, contactID string) error

	// Qualification state; a contact without a row is unqualified
	LoadQualification(ctx context.Context, contactID string) (qualify.State, error)
	SaveQualification(ctx context.Context, contactID string, state qualify.State) error

	// Exchanges (input/response history)
	SaveExchange(ctx context.Context, exchange *Exchange) error
	ListExchanges(ctx context.Context, contactID string, limit int) ([]*Exchange, error)

	// Catalog
	CreateProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, organizationID, productID string) (*Product, error)
	ListProducts(ctx context.Context, organizationID string, availableOnly bool) ([]*Product, error)

	// Ping reports whether the store can serve requests
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// NormalizePhone strips everything but digits so "+1 (555) 010-2000" and the
// "15550102000" form used by WhatsApp compare equal.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}
