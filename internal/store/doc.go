// Package store is the durable source of truth for posts, channels and
// analytics rows, backed by SQLite.
//
// The scheduling engine treats this store as authoritative: its in-memory
// trigger set is a rebuildable index over rows with status 'scheduled'.
package store
