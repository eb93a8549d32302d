package usecase

import (
	"sync"

	"github.com/agritrace/fieldsync/internal/core/domain"
)

// SyncContext holds the current authenticated identity for the whole agent.
// Constructed once at startup and passed into every service; there is no
// ambient global. Listeners fire when the identity changes so caches can be
// wiped before another user's data lands in them.
type SyncContext struct {
	mu        sync.RWMutex
	userID    string
	role      domain.Role
	listeners []func(oldUserID, newUserID string)
}

func NewSyncContext() *SyncContext {
	return &SyncContext{}
}

// SetUser records the authenticated identity. Registered listeners run
// synchronously when the user id actually changes, including on logout
// (newUserID empty).
func (c *SyncContext) SetUser(userID string, role domain.Role) {
	c.mu.Lock()
	old := c.userID
	c.userID = userID
	c.role = role
	listeners := c.listeners
	c.mu.Unlock()

	if old == userID {
		return
	}
	for _, fn := range listeners {
		fn(old, userID)
	}
}

func (c *SyncContext) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *SyncContext) Role() domain.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// OnUserChange registers fn for identity changes. Registration is expected
// during wiring, before traffic.
func (c *SyncContext) OnUserChange(fn func(oldUserID, newUserID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}
