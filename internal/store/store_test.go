// ABOUTME: Behavioural tests run against both SQLiteStore and MockStore
// ABOUTME: Covers contacts, write-once threads, qualification upserts, exchanges and catalog

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesgenio/lead-gateway/internal/qualify"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
}

// seedContact creates an organization and one contact in it.
func seedContact(t *testing.T, s Store, phone string) (*Organization, *Contact) {
	t.Helper()
	ctx := context.Background()

	org := &Organization{
		Name:          "Acme Robotics",
		BusinessModel: BusinessModelB2B,
		Industry:      "Manufacturing",
		Website:       "https://acme.example",
		MeetingLink:   "https://cal.example/acme",
	}
	require.NoError(t, s.CreateOrganization(ctx, org))

	contact := &Contact{OrganizationID: org.ID, Name: "Dana", Phone: phone}
	require.NoError(t, s.CreateContact(ctx, contact))
	return org, contact
}

func TestStore_Contacts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		org, contact := seedContact(t, s, "+1 (555) 010-2000")

		assert.NotEmpty(t, contact.ID)
		assert.Equal(t, "15550102000", contact.Phone)

		got, err := s.GetContact(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, org.ID, got.OrganizationID)
		assert.Empty(t, got.ThreadID)

		byPhone, err := s.GetContactByPhone(ctx, "15550102000")
		require.NoError(t, err)
		assert.Equal(t, contact.ID, byPhone.ID)

		_, err = s.GetContact(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetContactByPhone(ctx, "+44 20 7946 0000")
		assert.ErrorIs(t, err, ErrNotFound)

		dup := &Contact{OrganizationID: org.ID, Name: "Other", Phone: "1-555-010-2000"}
		assert.ErrorIs(t, s.CreateContact(ctx, dup), ErrDuplicate)
	})
}

func TestStore_ThreadIsWrittenOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, contact := seedContact(t, s, "15550102000")

		threadID, err := s.LoadThreadFor(ctx, contact.ID)
		require.NoError(t, err)
		assert.Empty(t, threadID)

		require.NoError(t, s.SaveThreadFor(ctx, contact.ID, "thread_abc"))

		// Saving the same id again is a no-op
		require.NoError(t, s.SaveThreadFor(ctx, contact.ID, "thread_abc"))

		err = s.SaveThreadFor(ctx, contact.ID, "thread_other")
		assert.ErrorIs(t, err, ErrThreadAlreadySet)

		threadID, err = s.LoadThreadFor(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, "thread_abc", threadID)

		err = s.SaveThreadFor(ctx, "missing", "thread_x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ClearConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, contact := seedContact(t, s, "15550102000")

		require.NoError(t, s.SaveThreadFor(ctx, contact.ID, "thread_abc"))
		require.NoError(t, s.SaveQualification(ctx, contact.ID, qualify.State{Budget: true, Need: true}))
		require.NoError(t, s.SaveExchange(ctx, &Exchange{ContactID: contact.ID, ThreadID: "thread_abc", Input: "hi", Response: "hello"}))

		require.NoError(t, s.ClearConversation(ctx, contact.ID))

		threadID, err := s.LoadThreadFor(ctx, contact.ID)
		require.NoError(t, err)
		assert.Empty(t, threadID)

		st, err := s.LoadQualification(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, qualify.State{}, st)

		history, err := s.ListExchanges(ctx, contact.ID, 0)
		require.NoError(t, err)
		assert.Len(t, history, 1, "history survives a new conversation")

		// A fresh thread can be attached afterwards
		require.NoError(t, s.SaveThreadFor(ctx, contact.ID, "thread_new"))

		assert.ErrorIs(t, s.ClearConversation(ctx, "missing"), ErrNotFound)
	})
}

func TestStore_Qualification(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, contact := seedContact(t, s, "15550102000")

		st, err := s.LoadQualification(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, qualify.State{}, st)

		require.NoError(t, s.SaveQualification(ctx, contact.ID, qualify.State{Budget: true}))
		require.NoError(t, s.SaveQualification(ctx, contact.ID, qualify.State{Budget: true, Need: true, Timeline: true}))

		st, err = s.LoadQualification(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, qualify.State{Budget: true, Need: true, Timeline: true}, st)
		assert.True(t, st.MeetingReady())
	})
}

func TestStore_Exchanges(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, contact := seedContact(t, s, "15550102000")

		for i := range 5 {
			require.NoError(t, s.SaveExchange(ctx, &Exchange{
				ContactID: contact.ID,
				ThreadID:  "thread_abc",
				Input:     fmt.Sprintf("question %d", i),
				Response:  fmt.Sprintf("answer %d", i),
			}))
		}

		all, err := s.ListExchanges(ctx, contact.ID, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "question 0", all[0].Input)
		assert.Equal(t, "answer 4", all[4].Response)

		recent, err := s.ListExchanges(ctx, contact.ID, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "question 3", recent[0].Input)
		assert.Equal(t, "question 4", recent[1].Input)

		none, err := s.ListExchanges(ctx, "nobody", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestStore_Catalog(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		org, _ := seedContact(t, s, "15550102000")

		other := &Organization{Name: "Other Co", BusinessModel: BusinessModelB2C}
		require.NoError(t, s.CreateOrganization(ctx, other))

		widget := &Product{OrganizationID: org.ID, Title: "Widget", Description: "A widget", PricePerQuantity: 9.5, Available: true}
		gadget := &Product{OrganizationID: org.ID, Title: "Gadget", PricePerQuantity: 20, Available: false}
		foreign := &Product{OrganizationID: other.ID, Title: "Foreign", Available: true}
		for _, p := range []*Product{widget, gadget, foreign} {
			require.NoError(t, s.CreateProduct(ctx, p))
		}

		all, err := s.ListProducts(ctx, org.ID, false)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "Gadget", all[0].Title)
		assert.Equal(t, "Widget", all[1].Title)

		available, err := s.ListProducts(ctx, org.ID, true)
		require.NoError(t, err)
		require.Len(t, available, 1)
		assert.Equal(t, widget.ID, available[0].ID)

		got, err := s.GetProduct(ctx, org.ID, widget.ID)
		require.NoError(t, err)
		assert.InDelta(t, 9.5, got.PricePerQuantity, 0.0001)
		assert.True(t, got.Available)

		_, err = s.GetProduct(ctx, org.ID, foreign.ID)
		assert.ErrorIs(t, err, ErrNotFound, "products are scoped to their organization")
	})
}

func TestStore_Organizations(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		org := &Organization{ID: "org-1", Name: "Acme", BusinessModel: BusinessModelBoth, PhoneNumberID: "1234"}
		require.NoError(t, s.CreateOrganization(ctx, org))

		got, err := s.GetOrganization(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, BusinessModelBoth, got.BusinessModel)
		assert.Equal(t, "1234", got.PhoneNumberID)

		assert.ErrorIs(t, s.CreateOrganization(ctx, &Organization{ID: "org-1", Name: "Again"}), ErrDuplicate)
		assert.Error(t, s.CreateOrganization(ctx, &Organization{Name: "Bad", BusinessModel: "B2G"}))

		_, err = s.GetOrganization(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
