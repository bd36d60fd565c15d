// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides contact/thread/exchange/catalog persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/salesgenio/lead-gateway/internal/qualify"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would otherwise see its own empty database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS organizations (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			business_model  TEXT NOT NULL,
			industry        TEXT NOT NULL DEFAULT '',
			website         TEXT NOT NULL DEFAULT '',
			meeting_link    TEXT NOT NULL DEFAULT '',
			phone_number_id TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,

			CHECK (business_model IN ('B2B', 'B2C', 'BOTH'))
		);

		CREATE TABLE IF NOT EXISTS contacts (
			id              TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			name            TEXT NOT NULL DEFAULT '',
			phone           TEXT NOT NULL UNIQUE,
			thread_id       TEXT UNIQUE,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			FOREIGN KEY (organization_id) REFERENCES organizations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_contacts_organization ON contacts(organization_id);

		CREATE TABLE IF NOT EXISTS qualifications (
			contact_id TEXT PRIMARY KEY,
			budget     INTEGER NOT NULL DEFAULT 0,
			authority  INTEGER NOT NULL DEFAULT 0,
			need       INTEGER NOT NULL DEFAULT 0,
			timeline   INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (contact_id) REFERENCES contacts(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS exchanges (
			id         TEXT PRIMARY KEY,
			contact_id TEXT NOT NULL,
			thread_id  TEXT NOT NULL,
			input      TEXT NOT NULL,
			response   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (contact_id) REFERENCES contacts(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_exchanges_contact_created
			ON exchanges(contact_id, created_at);

		CREATE TABLE IF NOT EXISTS products (
			id                 TEXT PRIMARY KEY,
			organization_id    TEXT NOT NULL,
			title              TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			price_per_quantity REAL NOT NULL DEFAULT 0,
			is_available       INTEGER NOT NULL DEFAULT 1,
			created_at         TEXT NOT NULL,
			FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_products_organization ON products(organization_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(column, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", column, err)
	}
	return t, nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateOrganization inserts an organization. An empty ID is filled with a UUID.
func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	if org.BusinessModel == "" {
		org.BusinessModel = BusinessModelB2B
	}
	if !org.BusinessModel.Valid() {
		return fmt.Errorf("invalid business model %q", org.BusinessModel)
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO organizations (id, name, business_model, industry, website, meeting_link, phone_number_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		org.ID,
		org.Name,
		string(org.BusinessModel),
		org.Industry,
		org.Website,
		org.MeetingLink,
		org.PhoneNumberID,
		formatTime(org.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting organization: %w", err)
	}

	s.logger.Debug("created organization", "id", org.ID, "name", org.Name)
	return nil
}

// GetOrganization retrieves an organization by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	query := `
		SELECT id, name, business_model, industry, website, meeting_link, phone_number_id, created_at
		FROM organizations
		WHERE id = ?
	`

	var org Organization
	var model, createdAtStr string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&model,
		&org.Industry,
		&org.Website,
		&org.MeetingLink,
		&org.PhoneNumberID,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying organization: %w", err)
	}

	org.BusinessModel = BusinessModel(model)
	if org.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	return &org, nil
}

// CreateContact inserts a contact. The phone number is normalized to digits.
// Returns ErrDuplicate if the phone (or thread id) is already in use.
func (s *SQLiteStore) CreateContact(ctx context.Context, contact *Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	contact.Phone = NormalizePhone(contact.Phone)
	if contact.Phone == "" {
		return errors.New("contact phone is required")
	}
	now := time.Now().UTC()
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}
	if contact.UpdatedAt.IsZero() {
		contact.UpdatedAt = contact.CreatedAt
	}

	query := `
		INSERT INTO contacts (id, organization_id, name, phone, thread_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		contact.ID,
		contact.OrganizationID,
		contact.Name,
		contact.Phone,
		nullString(contact.ThreadID),
		formatTime(contact.CreatedAt),
		formatTime(contact.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) && !strings.Contains(err.Error(), "FOREIGN KEY") {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting contact: %w", err)
	}

	s.logger.Debug("created contact", "id", contact.ID, "organization_id", contact.OrganizationID)
	return nil
}

const contactColumns = `id, organization_id, name, phone, thread_id, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*Contact, error) {
	var c Contact
	var threadID sql.NullString
	var createdAtStr, updatedAtStr string

	if err := row.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.Name,
		&c.Phone,
		&threadID,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	c.ThreadID = threadID.String
	var err error
	if c.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContact retrieves a contact by ID.
// Returns ErrNotFound if the contact doesn't exist.
func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact: %w", err)
	}
	return c, nil
}

// GetContactByPhone retrieves a contact by phone number in any formatting.
// Returns ErrNotFound if no contact has that number.
func (s *SQLiteStore) GetContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE phone = ?`, normalized)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact by phone: %w", err)
	}
	return c, nil
}

// LoadThreadFor returns the contact's thread id, or "" if no thread exists yet.
// Returns ErrNotFound if the contact doesn't exist.
func (s *SQLiteStore) LoadThreadFor(ctx context.Context, contactID string) (string, error) {
	var threadID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT thread_id FROM contacts WHERE id = ?`, contactID).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying thread id: %w", err)
	}
	return threadID.String, nil
}

// SaveThreadFor records the contact's thread id. Saving the same id again is a
// no-op; replacing a different existing id returns ErrThreadAlreadySet.
func (s *SQLiteStore) SaveThreadFor(ctx context.Context, contactID, threadID string) error {
	if threadID == "" {
		return errors.New("thread id is required")
	}

	query := `
		UPDATE contacts
		SET thread_id = ?, updated_at = ?
		WHERE id = ? AND (thread_id IS NULL OR thread_id = ?)
	`
	result, err := s.db.ExecContext(ctx, query, threadID, formatTime(time.Now()), contactID, threadID)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("thread %s belongs to another contact: %w", threadID, ErrDuplicate)
		}
		return fmt.Errorf("updating thread id: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.LoadThreadFor(ctx, contactID); err != nil {
			return err
		}
		return ErrThreadAlreadySet
	}

	s.logger.Debug("saved thread", "contact_id", contactID, "thread_id", threadID)
	return nil
}

// ClearConversation detaches the contact's thread and drops its qualification
// state so the next turn starts a new conversation. Exchanges are kept.
func (s *SQLiteStore) ClearConversation(ctx context.Context, contactID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE contacts SET thread_id = NULL, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), contactID)
	if err != nil {
		return fmt.Errorf("clearing thread id: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM qualifications WHERE contact_id = ?`, contactID); err != nil {
		return fmt.Errorf("deleting qualification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("cleared conversation", "contact_id", contactID)
	return nil
}

// LoadQualification returns the stored state, or the zero State if none was saved.
func (s *SQLiteStore) LoadQualification(ctx context.Context, contactID string) (qualify.State, error) {
	query := `
		SELECT budget, authority, need, timeline
		FROM qualifications
		WHERE contact_id = ?
	`

	var st qualify.State
	err := s.db.QueryRowContext(ctx, query, contactID).Scan(&st.Budget, &st.Authority, &st.Need, &st.Timeline)
	if errors.Is(err, sql.ErrNoRows) {
		return qualify.State{}, nil
	}
	if err != nil {
		return qualify.State{}, fmt.Errorf("querying qualification: %w", err)
	}
	return st, nil
}

// SaveQualification upserts the contact's qualification state.
func (s *SQLiteStore) SaveQualification(ctx context.Context, contactID string, state qualify.State) error {
	query := `
		INSERT INTO qualifications (contact_id, budget, authority, need, timeline, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			budget = excluded.budget,
			authority = excluded.authority,
			need = excluded.need,
			timeline = excluded.timeline,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		contactID,
		state.Budget,
		state.Authority,
		state.Need,
		state.Timeline,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("saving qualification: %w", err)
	}
	return nil
}

// SaveExchange appends an input/response pair to the contact's history.
func (s *SQLiteStore) SaveExchange(ctx context.Context, exchange *Exchange) error {
	if exchange.ID == "" {
		exchange.ID = uuid.NewString()
	}
	if exchange.CreatedAt.IsZero() {
		exchange.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO exchanges (id, contact_id, thread_id, input, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		exchange.ID,
		exchange.ContactID,
		exchange.ThreadID,
		exchange.Input,
		exchange.Response,
		formatTime(exchange.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting exchange: %w", err)
	}

	s.logger.Debug("saved exchange", "id", exchange.ID, "contact_id", exchange.ContactID)
	return nil
}

// ListExchanges returns the contact's most recent `limit` exchanges in
// chronological order (oldest first). If limit is 0 or negative, all are returned.
func (s *SQLiteStore) ListExchanges(ctx context.Context, contactID string, limit int) ([]*Exchange, error) {
	if limit <= 0 {
		limit = -1
	}

	// rowid breaks ties between exchanges saved within the same second
	query := `
		SELECT id, contact_id, thread_id, input, response, created_at
		FROM (
			SELECT rowid AS seq, id, contact_id, thread_id, input, response, created_at
			FROM exchanges
			WHERE contact_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*Exchange
	for rows.Next() {
		var e Exchange
		var createdAtStr string
		if err := rows.Scan(&e.ID, &e.ContactID, &e.ThreadID, &e.Input, &e.Response, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning exchange row: %w", err)
		}
		if e.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
			return nil, err
		}
		exchanges = append(exchanges, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchange rows: %w", err)
	}

	return exchanges, nil
}

// CreateProduct adds a catalog entry for an organization.
func (s *SQLiteStore) CreateProduct(ctx context.Context, product *Product) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO products (id, organization_id, title, description, price_per_quantity, is_available, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		product.ID,
		product.OrganizationID,
		product.Title,
		product.Description,
		product.PricePerQuantity,
		product.Available,
		formatTime(product.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) && !strings.Contains(err.Error(), "FOREIGN KEY") {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting product: %w", err)
	}
	return nil
}

const productColumns = `id, organization_id, title, description, price_per_quantity, is_available, created_at`

func scanProduct(row interface{ Scan(...any) error }) (*Product, error) {
	var p Product
	var createdAtStr string
	if err := row.Scan(
		&p.ID,
		&p.OrganizationID,
		&p.Title,
		&p.Description,
		&p.PricePerQuantity,
		&p.Available,
		&createdAtStr,
	); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProduct retrieves a product scoped to its organization.
// Returns ErrNotFound if the product doesn't exist or belongs to another organization.
func (s *SQLiteStore) GetProduct(ctx context.Context, organizationID, productID string) (*Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ? AND organization_id = ?`,
		productID, organizationID)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying product: %w", err)
	}
	return p, nil
}

// ListProducts returns an organization's catalog ordered by title.
func (s *SQLiteStore) ListProducts(ctx context.Context, organizationID string, availableOnly bool) ([]*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE organization_id = ?`
	if availableOnly {
		query += ` AND is_available = 1`
	}
	query += ` ORDER BY title ASC`

	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating product rows: %w", err)
	}
	return products, nil
}
