// Package storage keeps an append-only audit of dispatches: who triggered
// them, the mode, the recipient JID and per-device counts. Message text is
// never written.
//
// Drivers:
//   - file: JSON Lines next to the configured path
//   - sqlite: a SQLite database (modernc.org/sqlite, no cgo)
package storage
