// Package storage provides audit.Storage backends.
//
// MemoryStorage keeps events in a slice and is meant for tests and for
// deployments that only need the log stream. SQLiteStorage persists events
// through github.com/mattn/go-sqlite3 with WAL mode and a busy timeout.
package storage
