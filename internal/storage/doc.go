// Package storage persists small named JSON documents (the broadcast config
// and the activity log).
//
// Drivers:
//   - file:   one <name>.json per document, with an in-memory fallback
//   - sqlite: a single "documents" table
//   - redis:  one key per document
//   - memory: process memory only
package storage
