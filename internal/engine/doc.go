// Package engine owns post scheduling and publication.
//
// It maintains an in-memory set of pending triggers (post id -> fire
// time + generation) over the durable post store, publishes due posts
// through the gateway on a periodic sweep, and drives the post status
// state machine (draft -> scheduled -> published|failed, with explicit
// operator retry from failed).
//
// The store is authoritative: every status change is written durably
// before the trigger set is touched, and the trigger set is rebuilt from
// rows with status 'scheduled' on startup. Triggers are claimed
// (removed) before publishing so two concurrent sweeps can never
// double-publish, and the trigger lock is never held across a store or
// gateway call.
package engine
