package webdav

import (
	"sync"

	"github.com/cuemby/svnbridge/pkg/repo"
)

// stagingTracker is a per-transaction shadow of which paths have been
// added/modified/deleted so far in that transaction, used only to decide
// Add vs. Modify for a working-resource PUT without re-walking the object
// store; MKCOL, DELETE, COPY and MOVE only record into it. The
// transaction manager's own apply step remains the sole source of truth:
// this is a convenience heuristic, same role as the repository façade's
// own pendingExists map for its simplified scripting API.
type stagingTracker struct {
	mu    sync.Mutex
	state map[string]map[string]bool
}

func newStagingTracker() *stagingTracker {
	return &stagingTracker{state: make(map[string]map[string]bool)}
}

func (t *stagingTracker) exists(repository *repo.Repository, txnID, path string, baseRev uint64) bool {
	t.mu.Lock()
	if m, ok := t.state[txnID]; ok {
		if v, ok2 := m[path]; ok2 {
			t.mu.Unlock()
			return v
		}
	}
	t.mu.Unlock()
	return repository.Exists(path, baseRev)
}

func (t *stagingTracker) mark(txnID, path string, exists bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.state[txnID]
	if !ok {
		m = make(map[string]bool)
		t.state[txnID] = m
	}
	m[path] = exists
}

func (t *stagingTracker) forget(txnID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, txnID)
}
