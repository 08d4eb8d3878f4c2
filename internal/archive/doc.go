// Package archive persists subscription events to PostgreSQL.
//
// Events are batched and inserted with pgx.Batch. Each event carries a
// UUID, and inserts use ON CONFLICT (event_id) DO NOTHING so a replayed
// batch does not duplicate rows.
package archive
