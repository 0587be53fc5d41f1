package webdav

import (
	"sync"
	"time"

	"github.com/cuemby/svnbridge/pkg/txn"
)

// activityTTL bounds how long an activity may sit open with no MERGE before
// it is considered orphaned and its bound transaction aborted.
const activityTTL = 2 * time.Hour

// activityEntry pairs an activity id with the transaction it was opened
// against and the time it was created, so sweepExpired can find stale ones.
type activityEntry struct {
	txnID     string
	createdAt time.Time
}

// activityTable is the process-local activity-id -> transaction-id map
// the protocol layer maintains per spec: MKACTIVITY creates the pair,
// working-resource URLs route through it, MERGE resolves and commits it.
type activityTable struct {
	mu      sync.Mutex
	entries map[string]activityEntry
}

func newActivityTable() *activityTable {
	return &activityTable{entries: make(map[string]activityEntry)}
}

func (a *activityTable) open(activityID, txnID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[activityID] = activityEntry{txnID: txnID, createdAt: time.Now()}
}

func (a *activityTable) lookup(activityID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[activityID]
	if !ok {
		return "", false
	}
	return e.txnID, true
}

// count returns the number of activities currently tracked, read by the
// server's sweep loop to set the active-activities gauge.
func (a *activityTable) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *activityTable) forget(activityID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, activityID)
}

// sweepExpired aborts and forgets every activity older than activityTTL.
// Errors from the transaction manager's Abort (for example on an
// already-committed transaction) are ignored; the activity is forgotten
// either way.
func (a *activityTable) sweepExpired(manager *txn.Manager) {
	cutoff := time.Now().Add(-activityTTL)
	a.mu.Lock()
	var stale []string
	for id, e := range a.entries {
		if e.createdAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	a.mu.Unlock()

	for _, id := range stale {
		txnID, ok := a.lookup(id)
		if ok {
			_ = manager.Abort(txnID)
		}
		a.forget(id)
	}
}
