package query

import (
	"github.com/turboindex/ixkernel/index/version"
	"github.com/turboindex/ixkernel/kv"
)

// GetLatestVersion answers getLatestVersion(pk): a single point read
// via the "L" pointer.
func GetLatestVersion(tx kv.ReadTransaction, m *version.Maintainer, pk []byte) (version.HistoryEntry, bool, error) {
	return m.GetLatestVersion(tx, pk)
}

// GetVersionHistory answers getVersionHistory(pk, limit): a descending
// range scan, newest first, bounded by limit (limit <= 0 means
// unbounded).
func GetVersionHistory(tx kv.ReadTransaction, m *version.Maintainer, pk []byte, limit int) ([]version.HistoryEntry, error) {
	return m.GetVersionHistory(tx, pk, limit)
}
