// Package trajdb persists finished trajectories to SQLite for offline
// analysis and performance writers.
//
// Responsibilities: schema ownership, trajectory/track-state inserts, and
// read queries. Writers consume trajectories exclusively through
// trajectory proxies (the Parameters/Covariance fallback accessors and
// backward traversal); storage layout of the in-memory store is never
// touched.
// Key types: DB, Meta, TrajectorySummary, TrackStateRow.
package trajdb
