// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while enforcing the same uniqueness rules

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/salesgenio/lead-gateway/internal/qualify"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu             sync.RWMutex
	organizations  map[string]*Organization
	contacts       map[string]*Contact       // keyed by contact ID
	phoneIndex     map[string]string         // normalized phone -> contact ID
	qualifications map[string]qualify.State  // keyed by contact ID
	exchanges      map[string][]*Exchange    // keyed by contact ID
	products       map[string]*Product       // keyed by product ID

	// LoadThreadErr, when set, is returned by LoadThreadFor.
	LoadThreadErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		organizations:  make(map[string]*Organization),
		contacts:       make(map[string]*Contact),
		phoneIndex:     make(map[string]string),
		qualifications: make(map[string]qualify.State),
		exchanges:      make(map[string][]*Exchange),
		products:       make(map[string]*Product),
	}
}

// CreateOrganization stores a new organization.
func (m *MockStore) CreateOrganization(ctx context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	if org.BusinessModel == "" {
		org.BusinessModel = BusinessModelB2B
	}
	if !org.BusinessModel.Valid() {
		return errors.New("invalid business model")
	}
	if _, ok := m.organizations[org.ID]; ok {
		return ErrDuplicate
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}

	o := *org
	m.organizations[o.ID] = &o
	return nil
}

// GetOrganization retrieves an organization by ID.
func (m *MockStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.organizations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *o
	return &result, nil
}

// CreateContact stores a new contact.
func (m *MockStore) CreateContact(ctx context.Context, contact *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	contact.Phone = NormalizePhone(contact.Phone)
	if contact.Phone == "" {
		return errors.New("contact phone is required")
	}
	if _, ok := m.organizations[contact.OrganizationID]; !ok {
		return errors.New("unknown organization")
	}
	if _, ok := m.contacts[contact.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.phoneIndex[contact.Phone]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}
	if contact.UpdatedAt.IsZero() {
		contact.UpdatedAt = contact.CreatedAt
	}

	c := *contact
	m.contacts[c.ID] = &c
	m.phoneIndex[c.Phone] = c.ID
	return nil
}

// GetContact retrieves a contact by ID.
func (m *MockStore) GetContact(ctx context.Context, id string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// GetContactByPhone retrieves a contact by phone number.
func (m *MockStore) GetContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.phoneIndex[NormalizePhone(phone)]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.contacts[id]
	return &result, nil
}

// LoadThreadFor returns the contact's thread id or "".
func (m *MockStore) LoadThreadFor(ctx context.Context, contactID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LoadThreadErr != nil {
		return "", m.LoadThreadErr
	}
	c, ok := m.contacts[contactID]
	if !ok {
		return "", ErrNotFound
	}
	return c.ThreadID, nil
}

// SaveThreadFor records the contact's thread id once.
func (m *MockStore) SaveThreadFor(ctx context.Context, contactID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if threadID == "" {
		return errors.New("thread id is required")
	}
	c, ok := m.contacts[contactID]
	if !ok {
		return ErrNotFound
	}
	if c.ThreadID == threadID {
		return nil
	}
	if c.ThreadID != "" {
		return ErrThreadAlreadySet
	}
	for id, other := range m.contacts {
		if id != contactID && other.ThreadID == threadID {
			return ErrDuplicate
		}
	}
	c.ThreadID = threadID
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ClearConversation detaches the thread and drops qualification state.
func (m *MockStore) ClearConversation(ctx context.Context, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contacts[contactID]
	if !ok {
		return ErrNotFound
	}
	c.ThreadID = ""
	c.UpdatedAt = time.Now().UTC()
	delete(m.qualifications, contactID)
	return nil
}

// LoadQualification returns the stored state or the zero State.
func (m *MockStore) LoadQualification(ctx context.Context, contactID string) (qualify.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.qualifications[contactID], nil
}

// SaveQualification stores the contact's state.
func (m *MockStore) SaveQualification(ctx context.Context, contactID string, state qualify.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contacts[contactID]; !ok {
		return ErrNotFound
	}
	m.qualifications[contactID] = state
	return nil
}

// SaveExchange appends an exchange to the contact's history.
func (m *MockStore) SaveExchange(ctx context.Context, exchange *Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contacts[exchange.ContactID]; !ok {
		return ErrNotFound
	}
	if exchange.ID == "" {
		exchange.ID = uuid.NewString()
	}
	if exchange.CreatedAt.IsZero() {
		exchange.CreatedAt = time.Now().UTC()
	}

	e := *exchange
	m.exchanges[e.ContactID] = append(m.exchanges[e.ContactID], &e)
	return nil
}

// ListExchanges returns the most recent exchanges, oldest first.
func (m *MockStore) ListExchanges(ctx context.Context, contactID string, limit int) ([]*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.exchanges[contactID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}

	result := make([]*Exchange, 0, len(all)-start)
	for _, e := range all[start:] {
		eCopy := *e
		result = append(result, &eCopy)
	}
	return result, nil
}

// CreateProduct stores a catalog entry.
func (m *MockStore) CreateProduct(ctx context.Context, product *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if _, ok := m.products[product.ID]; ok {
		return ErrDuplicate
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	p := *product
	m.products[p.ID] = &p
	return nil
}

// GetProduct retrieves a product scoped to its organization.
func (m *MockStore) GetProduct(ctx context.Context, organizationID, productID string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[productID]
	if !ok || p.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// ListProducts returns an organization's catalog ordered by title.
func (m *MockStore) ListProducts(ctx context.Context, organizationID string, availableOnly bool) ([]*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Product
	for _, p := range m.products {
		if p.OrganizationID != organizationID {
			continue
		}
		if availableOnly && !p.Available {
			continue
		}
		pCopy := *p
		result = append(result, &pCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Title < result[j].Title })
	return result, nil
}

// Ping always succeeds for MockStore.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
