// Package stores persists per-printer LastUpdate stamps and the list of
// printers installed at a user's request. Two backends are provided: plist
// or YAML documents rewritten atomically, and a SQLite database with
// embedded migrations.
package stores
