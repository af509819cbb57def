// File: internal/inject/ledger.go
package inject

// ledgerEntry records one script's injection outcome for a frame within a
// single navigation epoch.
type ledgerEntry struct {
	epoch     uint64
	attempts  int
	done      bool
	abandoned bool
}

// frameLedger is the per-frame injection record, keyed by script id. Entries
// from older epochs are stale and treated as absent.
type frameLedger map[string]*ledgerEntry

// entryFor returns the live entry for a script in the given epoch, creating
// it when absent or when the recorded one belongs to an older epoch.
func (l frameLedger) entryFor(scriptID string, epoch uint64) *ledgerEntry {
	if e, ok := l[scriptID]; ok && e.epoch == epoch {
		return e
	}
	e := &ledgerEntry{epoch: epoch}
	l[scriptID] = e
	return e
}
