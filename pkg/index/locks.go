package index

import "sync"

// Workspace write lock: one mutex per absolute workspace path. Rebuild,
// sync and any helper touching .local/index.sqlite serialize here;
// unrelated workspaces never contend.
var (
	locksMu sync.Mutex
	locks   = make(map[string]*sync.Mutex)
)

// workspaceLock returns the mutex for a workspace root.
func workspaceLock(root string) *sync.Mutex {
	locksMu.Lock()
	defer locksMu.Unlock()
	mu, ok := locks[root]
	if !ok {
		mu = &sync.Mutex{}
		locks[root] = mu
	}
	return mu
}

// WithWorkspaceLock runs fn while holding the workspace's write lock.
func WithWorkspaceLock(root string, fn func() error) error {
	mu := workspaceLock(root)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
