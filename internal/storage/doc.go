// Package storage persists routine run history and small named timestamps
// ("marks") such as the last export time of a vault.
//
// Drivers:
//   - file: JSON Lines run log plus a mark snapshot and journal
//   - sqlite: a single SQLite database (modernc.org/sqlite, no cgo)
package storage
