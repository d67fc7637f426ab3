// Package writer persists decoded pipeline messages to PostgreSQL.
//
// Messages are handed over through a non-blocking queue so that observer
// callbacks on the connection's read goroutine never wait on the database.
// Rows are inserted in pgx batches with append-only semantics: a message
// ID that already exists is counted as a conflict and skipped.
package writer
