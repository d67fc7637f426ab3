// Package database provides the PostgreSQL connection pool used to persist
// pipeline messages.
package database
