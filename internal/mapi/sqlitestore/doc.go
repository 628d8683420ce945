// Package sqlitestore is a development backend for the native store model.
//
// A Provider keeps stores, folders, messages, properties and attachments in
// one SQLite database and raises table and object events on a single
// dispatch goroutine, the same way the native store delivers notifications
// on its own thread. Administrative helpers such as CreateStore and
// MoveMessage exist so tests and the seed command can produce every event
// kind the broker classifies.
package sqlitestore
