// Package database opens the PostgreSQL pool used by the event archive.
package database
