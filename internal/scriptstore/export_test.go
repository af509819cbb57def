// File: internal/scriptstore/export_test.go
package scriptstore

// ImportDirForTest exposes the sync import path without requiring a live
// git remote.
func (s *Store) ImportDirForTest(root string) (SyncResult, error) {
	return s.importDir(root)
}
