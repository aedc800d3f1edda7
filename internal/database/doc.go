// Package database provides the PostgreSQL connection pool backing the
// user store.
//
// The relay itself keeps no persistent state; Postgres is only needed when
// token authentication is enabled.
package database
