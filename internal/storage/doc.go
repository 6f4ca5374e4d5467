// Package storage is the contact store: friends, groups, group membership
// and message templates.
//
// Drivers:
//   - "sqlite": a SQLite file (modernc.org/sqlite, no cgo)
//   - "memory": process-local tables, optionally snapshotted to a JSON file
package storage
