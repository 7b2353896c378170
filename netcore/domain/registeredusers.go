package domain

import (
	"sync"
	"time"

	"github.com/arkth-araya/bbc1/netcore/id"
)

// registeredUsers is the per-domain mapping from asset group to the set of
// locally hosted users, each carrying its registration timestamp. A user
// may be registered under multiple asset groups simultaneously.
type registeredUsers struct {
	mu     sync.RWMutex
	groups map[id.AssetGroupID]map[id.UserID]time.Time
}

func newRegisteredUsers() *registeredUsers {
	return &registeredUsers{groups: make(map[id.AssetGroupID]map[id.UserID]time.Time)}
}

func (r *registeredUsers) register(assetGroupID id.AssetGroupID, userID id.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.groups[assetGroupID]
	if !ok {
		users = make(map[id.UserID]time.Time)
		r.groups[assetGroupID] = users
	}
	users[userID] = time.Now()
}

// remove is a no-op if assetGroupID has no registered users at all,
// preserving the source project's unregister_user_id behavior (Open
// Question (b) in spec.md §9).
func (r *registeredUsers) remove(assetGroupID id.AssetGroupID, userID id.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.groups[assetGroupID]
	if !ok {
		return
	}
	delete(users, userID)
}

func (r *registeredUsers) isRegistered(assetGroupID id.AssetGroupID, userID id.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users, ok := r.groups[assetGroupID]
	if !ok {
		return false
	}
	_, ok = users[userID]
	return ok
}
