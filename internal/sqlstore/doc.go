// Package sqlstore persists accounts and teams in SQL through sqlx.
// Production runs on PostgreSQL (lib/pq); development and tests run on
// SQLite (modernc.org/sqlite, no cgo).
//
// A team's administrators are not stored separately: they are the members
// whose role is admin.
package sqlstore
