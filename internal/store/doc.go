// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// Store is the single persistence interface. SQLiteStore implements it on
// modernc.org/sqlite; MockStore is an in-memory implementation for tests that
// enforces the same uniqueness rules.
//
// # Data Models
//
//   - Organization: the business, its business model (B2B, B2C, BOTH), scheduling
//     link and WhatsApp sender id
//   - Contact: a lead, unique by normalized phone number, owning at most one
//     backend conversation thread at a time
//   - qualify.State: BANT criteria per contact (qualifications table)
//   - Exchange: persisted input/response pairs
//   - Product: per-organization catalog used by the assistant's tools
//
// # Conversation Threads
//
// A contact's thread id is written once. SaveThreadFor with the same id is a
// no-op, with a different id it fails with ErrThreadAlreadySet. Only
// ClearConversation detaches a thread, and it also drops the qualification state
// so the next conversation starts unqualified.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: a unique id, phone or thread id is already taken
//   - ErrThreadAlreadySet: the contact already owns a different thread
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore on a t.TempDir() path
// for integration tests with real SQLite.
package store
