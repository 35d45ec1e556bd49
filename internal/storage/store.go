// internal/storage/store.go
package storage

import (
	"fmt"
	"strconv"
)

// Store is the durable key-value storage the history subsystem writes
// through. Keys are project-scoped strings; values are opaque blobs.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or false if absent.
	Get(key string) ([]byte, bool)
	// Set writes the value for key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Keys returns all keys with the given prefix.
	Keys(prefix string) []string
	// Close releases any underlying resources.
	Close() error
}

// HistoryKey returns the storage key holding a project's checkpoint blob
func HistoryKey(projectID string) string {
	return "history:" + projectID
}

// RecoveryKey returns the storage key holding a project's recovery blob
func RecoveryKey(projectID string) string {
	return "recovery:" + projectID
}

// BackupKey returns the storage key for an on-demand backup bundle
func BackupKey(projectID string, epochMillis int64) string {
	return fmt.Sprintf("backup:%s:%s", projectID, strconv.FormatInt(epochMillis, 10))
}
